package models

import (
	"context"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// NewOpenRouterModel targets the OpenRouter gateway; modelName is the vendor-qualified id
// (e.g. "anthropic/claude-sonnet-4", "x-ai/grok-4-fast").
func NewOpenRouterModel(ctx context.Context, modelName string, cfg *genai.ClientConfig) (model.LLM, error) {
	return newOpenAICompatible(modelName, cfg, "https://openrouter.ai/api/v1", "openrouter-go")
}
