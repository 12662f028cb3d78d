package history

import "github.com/easeaico/her-engine/internal/types"

// Budget is a token allowance for history turns.
type Budget int

// Unlimited disables trimming.
const Unlimited Budget = -1

// Result splits input turns into the ones sent verbatim and the ones to summarize.
type Result struct {
	Kept      []types.Turn
	Discarded []types.Turn
}

// Window keeps the newest turn unconditionally, then walks older turns newest
// first and keeps each one that still fits the remaining budget.
// Both lists come back in chronological order.
func Window(turns []types.Turn, budget Budget) Result {
	if len(turns) == 0 {
		return Result{}
	}
	if budget < 0 {
		kept := make([]types.Turn, len(turns))
		copy(kept, turns)
		return Result{Kept: kept}
	}

	last := len(turns) - 1
	keep := make([]bool, len(turns))
	keep[last] = true
	used := EstimateMessageTokens(turns[last].Text)

	for i := last - 1; i >= 0; i-- {
		cost := EstimateMessageTokens(turns[i].Text)
		if used+cost <= int(budget) {
			keep[i] = true
			used += cost
		}
	}

	var res Result
	for i, t := range turns {
		if keep[i] {
			res.Kept = append(res.Kept, t)
		} else {
			res.Discarded = append(res.Discarded, t)
		}
	}
	return res
}

// Pair is one user message and the assistant reply that followed it.
type Pair struct {
	User      string
	Assistant string
}

// Pairs groups turns into user/assistant pairs, keeps the last n and
// left-pads with empty pairs so exactly n pairs are returned.
func Pairs(turns []types.Turn, n int) []Pair {
	var pairs []Pair
	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			pairs = append(pairs, Pair{User: t.Text})
		case types.RoleAssistant:
			if len(pairs) == 0 || pairs[len(pairs)-1].Assistant != "" {
				pairs = append(pairs, Pair{})
			}
			pairs[len(pairs)-1].Assistant = t.Text
		}
	}
	if n <= 0 {
		return nil
	}
	if len(pairs) > n {
		pairs = pairs[len(pairs)-n:]
	}
	padded := make([]Pair, n-len(pairs), n)
	return append(padded, pairs...)
}
