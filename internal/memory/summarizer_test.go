package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/types"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
	messages []llm.Message
	params   llm.SamplingParams
}

func (c *fakeCompleter) Complete(ctx context.Context, messages []llm.Message, params llm.SamplingParams, onPartial llm.PartialFunc) (llm.Completion, error) {
	c.calls++
	c.messages = messages
	c.params = params
	if c.err != nil {
		return llm.Completion{}, c.err
	}
	return llm.Completion{Text: c.response}, nil
}

func sampleTurns(n int) []types.Turn {
	turns := make([]types.Turn, 0, n)
	for i := 0; i < n; i++ {
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleAssistant
		}
		turns = append(turns, types.Turn{Role: role, Text: "реплика " + string(rune('A'+i))})
	}
	return turns
}

func TestSummarizerDueAndSlice(t *testing.T) {
	s := NewSummarizer(&fakeCompleter{}, llm.SamplingParams{}, 0, 0)
	if s.WindowSize() != DefaultWindowSize {
		t.Fatalf("expected default window size, got %d", s.WindowSize())
	}
	if s.Due(6, 0) || !s.Due(7, 0) || s.Due(13, 7) || !s.Due(14, 7) {
		t.Fatalf("unexpected due policy")
	}

	turns := sampleTurns(15)
	slice, ok := s.IntervalSlice(turns, 7)
	if !ok || len(slice) != 7 || slice[0].Text != turns[7].Text || slice[6].Text != turns[13].Text {
		t.Fatalf("unexpected slice: %#v", slice)
	}
	if _, ok := s.IntervalSlice(turns, 9); ok {
		t.Fatalf("expected no pass before threshold")
	}
}

func TestFoldParsesSummaryAndOperations(t *testing.T) {
	completer := &fakeCompleter{response: "```json\n" + `{
		"summary": "Пользователь рассказал, что любит кофе.",
		"memory_operations": [
			{"op": "add", "content": "любит кофе", "importance": 7},
			{"op": "update", "id": "f1", "content": "живёт в Казани"},
			{"op": "delete", "id": "missing"},
			{"op": "add", "content": ""},
			{"op": "add", "content": "x", "importance": 11},
			{"op": "rename", "id": "f1"},
			"junk"
		]
	}` + "\n```"}
	s := NewSummarizer(completer, llm.SamplingParams{Temperature: llm.Float(0.4)}, 7, 1024)

	result := s.Fold(context.Background(), FoldRequest{
		CharacterName: "Алиса",
		Summary:       "Знакомство.",
		Turns:         sampleTurns(2),
		Facts:         []types.MemoryFact{{ID: "f1", Content: "живёт в Москве", Importance: 6}},
	})

	if !result.Changed || result.Summary != "Пользователь рассказал, что любит кофе." {
		t.Fatalf("unexpected summary: %#v", result)
	}
	if len(result.Operations) != 2 {
		t.Fatalf("expected 2 valid operations, got %#v", result.Operations)
	}
	if result.Operations[0].Kind != OpAdd || result.Operations[0].Importance != 7 {
		t.Fatalf("unexpected add op: %#v", result.Operations[0])
	}
	if result.Operations[1].Kind != OpUpdate || result.Operations[1].ID != "f1" {
		t.Fatalf("unexpected update op: %#v", result.Operations[1])
	}

	if completer.params.ResponseSchema == nil {
		t.Fatalf("expected response schema on summary request")
	}
	input := completer.messages[1].Content
	for _, want := range []string{"Знакомство.", "[f1] живёт в Москве", "Пользователь: реплика A", "Алиса: реплика B"} {
		if !strings.Contains(input, want) {
			t.Fatalf("expected %q in summary input:\n%s", want, input)
		}
	}
}

func TestFoldDegradesOnModelError(t *testing.T) {
	s := NewSummarizer(&fakeCompleter{err: errors.New("timeout")}, llm.SamplingParams{}, 7, 1024)
	result := s.Fold(context.Background(), FoldRequest{Summary: "old", Turns: sampleTurns(3)})
	if result.Changed || result.Summary != "old" || len(result.Operations) != 0 {
		t.Fatalf("expected unchanged result, got %#v", result)
	}
}

func TestFoldDegradesWithoutJSON(t *testing.T) {
	s := NewSummarizer(&fakeCompleter{response: "Извините, не могу."}, llm.SamplingParams{}, 7, 1024)
	result := s.Fold(context.Background(), FoldRequest{Summary: "old", Turns: sampleTurns(3)})
	if result.Changed || result.Summary != "old" || len(result.Operations) != 0 {
		t.Fatalf("expected unchanged result, got %#v", result)
	}
}

func TestFoldSkipsEmptyTurns(t *testing.T) {
	completer := &fakeCompleter{response: `{"summary": "x"}`}
	s := NewSummarizer(completer, llm.SamplingParams{}, 7, 1024)
	if result := s.Fold(context.Background(), FoldRequest{Summary: "old"}); result.Changed {
		t.Fatalf("expected no change")
	}
	if completer.calls != 0 {
		t.Fatalf("expected no model call")
	}
}

func TestFoldCapsSummary(t *testing.T) {
	long := strings.Repeat("а", 50) + strings.Repeat("б", 50)
	s := NewSummarizer(&fakeCompleter{response: `{"summary": "` + long + `"}`}, llm.SamplingParams{}, 7, 60)
	result := s.Fold(context.Background(), FoldRequest{Turns: sampleTurns(1)})
	if utf8.RuneCountInString(result.Summary) != 60 {
		t.Fatalf("expected capped summary, got %d runes", utf8.RuneCountInString(result.Summary))
	}
	if !strings.HasSuffix(result.Summary, strings.Repeat("б", 50)) {
		t.Fatalf("expected newest content retained")
	}
}

func TestCapSummary(t *testing.T) {
	for _, n := range []int{0, 5, 10, 11, 500} {
		in := strings.Repeat("x", n-n%2) + strings.Repeat("я", n%2)
		out := CapSummary(in, 10)
		if utf8.RuneCountInString(out) > 10 {
			t.Fatalf("CapSummary exceeded cap for len %d: %q", n, out)
		}
		if n > 0 && !strings.HasSuffix(in, out) {
			t.Fatalf("expected front trim for len %d: %q", n, out)
		}
	}
	if CapSummary("short", 10) != "short" {
		t.Fatalf("expected short summary unchanged")
	}
}
