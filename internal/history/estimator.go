// Package history estimates token cost and selects which turns fit the prompt.
package history

import (
	"unicode/utf8"

	"github.com/easeaico/her-engine/internal/types"
)

const (
	charsPerToken = 4
	// MessageOverhead approximates role framing per chat message.
	MessageOverhead = 4
)

// EstimateTokens approximates the token cost of text as one token per four characters.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := (n + charsPerToken - 1) / charsPerToken
	if tokens < 1 {
		return 1
	}
	return tokens
}

// EstimateMessageTokens is EstimateTokens plus the per-message overhead.
func EstimateMessageTokens(text string) int {
	return EstimateTokens(text) + MessageOverhead
}

// EstimateTurns sums the message cost of turns.
func EstimateTurns(turns []types.Turn) int {
	total := 0
	for _, t := range turns {
		total += EstimateMessageTokens(t.Text)
	}
	return total
}
