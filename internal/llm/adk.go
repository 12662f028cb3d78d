package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// ADKCompleter drives any ADK model.LLM in streaming mode.
type ADKCompleter struct {
	model model.LLM
}

// NewADKCompleter wraps an ADK model.
func NewADKCompleter(m model.LLM) *ADKCompleter {
	return &ADKCompleter{model: m}
}

// Complete streams the request and returns the concatenated text.
func (c *ADKCompleter) Complete(ctx context.Context, messages []Message, params SamplingParams, onPartial PartialFunc) (Completion, error) {
	if c == nil || c.model == nil {
		return Completion{}, fmt.Errorf("model not configured")
	}

	req := BuildRequest(messages, params)

	var streamed strings.Builder
	var final string
	sawPartial := false
	for resp, err := range c.model.GenerateContent(ctx, req, true) {
		if err != nil {
			return Completion{}, fmt.Errorf("failed to generate content: %w", err)
		}
		if resp == nil {
			continue
		}
		text := ContentText(resp.Content)
		if resp.Partial {
			if text == "" {
				continue
			}
			sawPartial = true
			streamed.WriteString(text)
			if onPartial != nil {
				onPartial(text)
			}
			continue
		}
		if text != "" {
			final = text
		}
	}

	if sawPartial {
		return Completion{Text: streamed.String()}, nil
	}
	// Non-streaming providers deliver everything in one response.
	if final != "" && onPartial != nil {
		onPartial(final)
	}
	return Completion{Text: final}, nil
}

// BuildRequest converts prompt messages and sampling params into an ADK request.
// System messages become the system instruction; assistant turns use the "model" role.
func BuildRequest(messages []Message, params SamplingParams) *model.LLMRequest {
	cfg := &genai.GenerateContentConfig{}
	if params.Temperature != nil {
		cfg.Temperature = float32Ptr(*params.Temperature)
	}
	if params.TopP != nil {
		cfg.TopP = float32Ptr(*params.TopP)
	}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}
	if len(params.Stop) > 0 {
		cfg.StopSequences = append([]string(nil), params.Stop...)
	}
	if params.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = params.ResponseSchema
	}

	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	return &model.LLMRequest{
		Model:    params.Model,
		Contents: contents,
		Config:   cfg,
	}
}

// ContentText concatenates the text parts of content.
func ContentText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func float32Ptr(v float64) *float32 {
	f := float32(v)
	return &f
}
