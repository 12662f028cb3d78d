package models

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

// Provider names accepted by New.
const (
	ProviderGrok       = "grok"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// New builds the chat model for provider.
func New(ctx context.Context, provider, modelName, apiKey, baseURL string) (model.LLM, error) {
	cfg := &genai.ClientConfig{
		APIKey:      apiKey,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	}

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderGrok, "":
		return NewGrokModel(ctx, modelName, cfg)
	case ProviderOpenAI:
		return NewOpenAIModel(ctx, modelName, cfg)
	case ProviderOpenRouter:
		return NewOpenRouterModel(ctx, modelName, cfg)
	case ProviderGemini:
		if apiKey == "" {
			return nil, fmt.Errorf("API key is required")
		}
		m, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini model: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", provider)
	}
}
