package engine

import (
	"errors"
	"log/slog"

	"github.com/easeaico/her-engine/internal/prompt"
)

var (
	ErrDialogNotFound    = errors.New("dialog not found")
	ErrDialogClosed      = errors.New("dialog is cancelled")
	ErrCharacterNotFound = errors.New("character not found")
	ErrStoryNotFound     = errors.New("story not found")
	ErrNoPersonaVersion  = prompt.ErrNoPersonaVersion
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrNothingToRetry    = errors.New("no pending user turn to regenerate")
	ErrModelCall         = errors.New("model call failed")
)

// ModelError wraps a transport failure of the chat model.
type ModelError struct {
	Err error
}

func (e *ModelError) Error() string {
	return "model call failed: " + e.Err.Error()
}

func (e *ModelError) Unwrap() []error {
	return []error{ErrModelCall, e.Err}
}

// sideTask runs a best-effort step. Failures and panics are logged, never returned.
func sideTask(name string, fn func() error, attrs ...any) {
	defer func() {
		if err := recover(); err != nil {
			slog.Error("side task panic", "name", name, "error", err)
		}
	}()

	if err := fn(); err != nil {
		slog.Error("side task failed", append([]any{"name", name, "error", err.Error()}, attrs...)...)
	}
}
