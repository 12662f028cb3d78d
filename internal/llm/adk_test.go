package llm

import (
	"context"
	"errors"
	"iter"
	"testing"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

type fakeModel struct {
	responses []*model.LLMResponse
	err       error
	lastReq   *model.LLMRequest
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	m.lastReq = req
	return func(yield func(*model.LLMResponse, error) bool) {
		for _, resp := range m.responses {
			if !yield(resp, nil) {
				return
			}
		}
		if m.err != nil {
			yield(nil, m.err)
		}
	}
}

func partial(text string) *model.LLMResponse {
	return &model.LLMResponse{Content: genai.NewContentFromText(text, genai.RoleModel), Partial: true}
}

func TestCompleteConcatenatesPartials(t *testing.T) {
	m := &fakeModel{responses: []*model.LLMResponse{
		partial(`{"reply": "при`),
		partial(`вет"}`),
		{Content: genai.NewContentFromText(`{"reply": "привет"}`, genai.RoleModel), TurnComplete: true},
	}}
	var fragments []string
	out, err := NewADKCompleter(m).Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, SamplingParams{}, func(f string) {
		fragments = append(fragments, f)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Text != `{"reply": "привет"}` {
		t.Fatalf("unexpected text: %q", out.Text)
	}
	if len(fragments) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(fragments))
	}
}

func TestCompleteNonStreamingDeliversOnce(t *testing.T) {
	m := &fakeModel{responses: []*model.LLMResponse{
		{Content: genai.NewContentFromText("full text", genai.RoleModel), TurnComplete: true},
	}}
	calls := 0
	out, err := NewADKCompleter(m).Complete(context.Background(), nil, SamplingParams{}, func(string) { calls++ })
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Text != "full text" || calls != 1 {
		t.Fatalf("unexpected result: %q calls=%d", out.Text, calls)
	}
}

func TestCompleteReturnsStreamError(t *testing.T) {
	m := &fakeModel{responses: []*model.LLMResponse{partial("x")}, err: errors.New("connection reset")}
	if _, err := NewADKCompleter(m).Complete(context.Background(), nil, SamplingParams{}, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestBuildRequestMapsRolesAndParams(t *testing.T) {
	req := BuildRequest([]Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, SamplingParams{
		Model:       "grok-4-fast",
		Temperature: Float(1.02),
		TopP:        Float(0.9),
		MaxTokens:   600,
		Stop:        []string{"User:"},
	})

	if req.Model != "grok-4-fast" {
		t.Fatalf("unexpected model: %s", req.Model)
	}
	if len(req.Contents) != 2 || req.Contents[0].Role != string(genai.RoleUser) || req.Contents[1].Role != string(genai.RoleModel) {
		t.Fatalf("unexpected contents: %#v", req.Contents)
	}
	if ContentText(req.Config.SystemInstruction) != "be nice" {
		t.Fatalf("unexpected system instruction")
	}
	if req.Config.MaxOutputTokens != 600 || len(req.Config.StopSequences) != 1 {
		t.Fatalf("unexpected config: %#v", req.Config)
	}
	if req.Config.Temperature == nil || *req.Config.Temperature < 1.01 {
		t.Fatalf("temperature not mapped")
	}
	if req.Config.ResponseMIMEType != "" {
		t.Fatalf("unexpected response mime type")
	}
}
