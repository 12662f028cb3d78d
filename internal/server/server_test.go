package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/easeaico/her-engine/internal/catalog"
	"github.com/easeaico/her-engine/internal/emotion"
	"github.com/easeaico/her-engine/internal/engine"
	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/memory"
	"github.com/easeaico/her-engine/internal/memstore"
	"github.com/easeaico/her-engine/internal/prompt"
	"github.com/easeaico/her-engine/internal/types"
)

const testCatalog = `
characters:
  - id: alisa
    name: Алиса
    versions:
      - id: v1
        active: true
        persona: Реставратор особняков.
tiers:
  free:
    daily_limit: 2
`

type fakeLLM struct {
	reply string
}

// Complete streams the reply in two fragments.
func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, params llm.SamplingParams, onPartial llm.PartialFunc) (llm.Completion, error) {
	if onPartial != nil {
		half := len(f.reply) / 2
		onPartial(f.reply[:half])
		onPartial(f.reply[half:])
	}
	return llm.Completion{Text: f.reply}, nil
}

func newTestServer(t *testing.T, reply string) *Server {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("failed to parse catalog: %v", err)
	}
	store := memstore.New()
	ctl := engine.New(engine.Deps{
		Sessions:   store,
		Users:      store,
		Characters: cat,
		Emotions:   emotion.NewTracker(store),
		Facts:      memory.NewFacts(store, nil),
		Summarizer: memory.NewSummarizer(nil, llm.SamplingParams{}, 0, 0),
		Ledger:     ledger.New(store, cat),
		Assembler:  prompt.NewAssembler(""),
		LLM:        &fakeLLM{reply: reply},
	}, engine.Options{StreamInterval: time.Millisecond, EnforceQuota: true})
	return New(ctl)
}

func do(t *testing.T, s *Server, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "u1")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func openTestDialog(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/v1/dialogs", `{"character_id": "alisa"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var dialog types.Dialog
	if err := json.Unmarshal(rec.Body.Bytes(), &dialog); err != nil {
		t.Fatalf("failed to decode dialog: %v", err)
	}
	return dialog.ID
}

func TestMessageRoundTrip(t *testing.T) {
	s := newTestServer(t, `{"reply": "Привет, я Алиса.", "mood": "happy"}`)
	id := openTestDialog(t, s)

	rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/messages", `{"text": "Привет"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result engine.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if result.VisibleText != "Привет, я Алиса." || result.Emotion.Mood.Primary != "happy" || result.QuotaUsed != 1 {
		t.Fatalf("unexpected result: %#v", result)
	}
	if result.Actions == nil {
		t.Fatalf("expected actions to serialize as an empty list")
	}
}

func TestMessageStream(t *testing.T) {
	s := newTestServer(t, `{"reply": "Шагаем к двери."}`)
	id := openTestDialog(t, s)

	rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/messages", `{"text": "Идём?", "stream": true}`, nil)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected event stream, got %q", ct)
	}
	body := rec.Body.String()
	done := strings.Index(body, "event: done")
	if done < 0 || !strings.Contains(body[done:], `"text":"Шагаем к двери."`) {
		t.Fatalf("expected done event with final text, got:\n%s", body)
	}
	if last := strings.LastIndex(body, "event: partial"); last > done {
		t.Fatalf("partial after done:\n%s", body)
	}
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, `{"reply": "ok"}`)
	id := openTestDialog(t, s)

	if rec := do(t, s, http.MethodPost, "/v1/dialogs/missing/messages", `{"text": "x"}`, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/v1/dialogs", `{"character_id": "nobody"}`, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown character, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/messages", `{"text": " "}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/messages", `{"text": "x"}`, nil); rec.Code != http.StatusOK {
			t.Fatalf("turn %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/messages", `{"text": "x"}`, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var body errorBody
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != "quota_exceeded" || body.Used != 2 || body.Limit != 2 {
		t.Fatalf("unexpected quota body: %#v", body)
	}

	if rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/cancel", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on cancel, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/messages", `{"text": "x"}`, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after cancel, got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/v1/dialogs/"+id+"/reset", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on reset, got %d", rec.Code)
	}
}

func TestMissingUserHeader(t *testing.T) {
	s := newTestServer(t, `{"reply": "ok"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/dialogs", strings.NewReader(`{"character_id": "alisa"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}
}

func TestErrorResponseModelFailure(t *testing.T) {
	err := fmt.Errorf("turn: %w", &engine.ModelError{Err: errors.New("connection reset")})
	status, body := errorResponse(err)
	if status != http.StatusBadGateway || body.Code != "model_error" {
		t.Fatalf("unexpected mapping: %d %#v", status, body)
	}
	if strings.Contains(body.Error, "connection reset") {
		t.Fatalf("transport details must not leak: %q", body.Error)
	}
	if status, _ := errorResponse(errors.New("boom")); status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
}

func TestDialogLocksSerialize(t *testing.T) {
	locks := newDialogLocks()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		running int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock("d1")
			defer unlock()
			mu.Lock()
			running++
			maxSeen = max(maxSeen, running)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected one holder at a time, saw %d", maxSeen)
	}
	if len(locks.locks) != 0 {
		t.Fatalf("expected idle locks dropped, got %d", len(locks.locks))
	}
}
