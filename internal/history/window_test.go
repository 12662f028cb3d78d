package history

import (
	"strings"
	"testing"

	"github.com/easeaico/her-engine/internal/types"
)

func turn(id string, role types.Role, text string) types.Turn {
	return types.Turn{ID: id, Role: role, Text: text}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"привет", 2},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Fatalf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
	if EstimateMessageTokens("abcd") != 1+MessageOverhead {
		t.Fatalf("unexpected message overhead")
	}
}

func TestEstimateTokensMonotonic(t *testing.T) {
	prev := 0
	for i := 0; i < 200; i++ {
		got := EstimateTokens(strings.Repeat("x", i))
		if got < prev {
			t.Fatalf("estimate decreased at len %d: %d < %d", i, got, prev)
		}
		prev = got
	}
}

func TestWindowKeepsNewestTurnOverBudget(t *testing.T) {
	turns := []types.Turn{
		turn("1", types.RoleUser, "short"),
		turn("2", types.RoleUser, strings.Repeat("long ", 100)),
	}
	res := Window(turns, 1)
	if len(res.Kept) != 1 || res.Kept[0].ID != "2" {
		t.Fatalf("expected newest turn kept, got %#v", res.Kept)
	}
	if len(res.Discarded) != 1 || res.Discarded[0].ID != "1" {
		t.Fatalf("expected oldest turn discarded, got %#v", res.Discarded)
	}
}

func TestWindowPartitionsChronologically(t *testing.T) {
	turns := []types.Turn{
		turn("1", types.RoleUser, strings.Repeat("a", 40)),
		turn("2", types.RoleAssistant, "ok"),
		turn("3", types.RoleUser, strings.Repeat("b", 80)),
		turn("4", types.RoleAssistant, "fine"),
		turn("5", types.RoleUser, "now"),
	}
	res := Window(turns, 20)

	seen := map[string]int{}
	for _, k := range res.Kept {
		seen[k.ID]++
	}
	for _, d := range res.Discarded {
		seen[d.ID]++
	}
	if len(seen) != len(turns) {
		t.Fatalf("partition lost turns: %#v", seen)
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("turn %s appears %d times", id, n)
		}
	}
	if res.Kept[len(res.Kept)-1].ID != "5" {
		t.Fatalf("newest turn missing from kept: %#v", res.Kept)
	}
	for i := 1; i < len(res.Kept); i++ {
		if res.Kept[i-1].ID >= res.Kept[i].ID {
			t.Fatalf("kept not chronological: %#v", res.Kept)
		}
	}
	for i := 1; i < len(res.Discarded); i++ {
		if res.Discarded[i-1].ID >= res.Discarded[i].ID {
			t.Fatalf("discarded not chronological: %#v", res.Discarded)
		}
	}
	if EstimateTurns(res.Kept)-EstimateMessageTokens("now") > 20 {
		t.Fatalf("kept history exceeds budget")
	}
}

func TestWindowUnlimited(t *testing.T) {
	turns := []types.Turn{turn("1", types.RoleUser, "a"), turn("2", types.RoleAssistant, "b")}
	res := Window(turns, Unlimited)
	if len(res.Kept) != 2 || len(res.Discarded) != 0 {
		t.Fatalf("unexpected result: %#v", res)
	}
}

func TestWindowEmpty(t *testing.T) {
	res := Window(nil, 0)
	if len(res.Kept) != 0 || len(res.Discarded) != 0 {
		t.Fatalf("expected empty result, got %#v", res)
	}
}

func TestPairsPadsToFixedSize(t *testing.T) {
	turns := []types.Turn{
		turn("1", types.RoleUser, "hi"),
		turn("2", types.RoleAssistant, "hello"),
		turn("3", types.RoleUser, "how are you"),
	}
	pairs := Pairs(turns, 4)
	if len(pairs) != 4 {
		t.Fatalf("expected 4 pairs, got %d", len(pairs))
	}
	if pairs[0] != (Pair{}) || pairs[1] != (Pair{}) {
		t.Fatalf("expected left padding, got %#v", pairs)
	}
	if pairs[2] != (Pair{User: "hi", Assistant: "hello"}) || pairs[3] != (Pair{User: "how are you"}) {
		t.Fatalf("unexpected pairs: %#v", pairs)
	}
}

func TestPairsKeepsLatest(t *testing.T) {
	var turns []types.Turn
	for i := 0; i < 6; i++ {
		turns = append(turns, turn("u", types.RoleUser, string(rune('a'+i))), turn("a", types.RoleAssistant, "ok"))
	}
	pairs := Pairs(turns, 4)
	if len(pairs) != 4 || pairs[0].User != "c" || pairs[3].User != "f" {
		t.Fatalf("unexpected pairs: %#v", pairs)
	}
}
