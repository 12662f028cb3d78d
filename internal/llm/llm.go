// Package llm defines the language-model client used by the engine and adapts ADK models to it.
package llm

import (
	"context"

	"google.golang.org/genai"
)

// Role is the author of a prompt message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of an assembled prompt.
type Message struct {
	Role    Role
	Content string
}

// SamplingParams are per-call generation settings.
type SamplingParams struct {
	Model       string
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stop        []string
	// ResponseSchema requests JSON output shaped by the schema when the provider supports it.
	ResponseSchema *genai.Schema
}

// Completion is the full text returned by the model.
type Completion struct {
	Text string
}

// PartialFunc receives text fragments in arrival order.
type PartialFunc func(fragment string)

// Completer sends a prompt and returns the final text, streaming fragments to onPartial when set.
type Completer interface {
	Complete(ctx context.Context, messages []Message, params SamplingParams, onPartial PartialFunc) (Completion, error)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
