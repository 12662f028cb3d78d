package emotion

import (
	"context"
	"fmt"

	"github.com/easeaico/her-engine/internal/types"
)

// Store persists one emotional state per (user, character).
type Store interface {
	GetEmotionalState(ctx context.Context, userID, characterID string) (*types.EmotionalState, error)
	SaveEmotionalState(ctx context.Context, state types.EmotionalState) error
	DeleteEmotionalState(ctx context.Context, userID, characterID string) error
}

// Tracker reads and mutates emotional state. ApplyDelta is the only mutation path.
type Tracker struct {
	store Store
}

// NewTracker returns a Tracker.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// GetOrCreate returns the stored state, seeding it from baseline on first contact.
func (t *Tracker) GetOrCreate(ctx context.Context, userID, characterID string, baseline *types.EmotionalBaseline) (types.EmotionalState, error) {
	if t == nil || t.store == nil {
		return types.EmotionalState{}, fmt.Errorf("emotion tracker not configured")
	}
	state, err := t.store.GetEmotionalState(ctx, userID, characterID)
	if err != nil {
		return types.EmotionalState{}, fmt.Errorf("failed to get emotional state: %w", err)
	}
	if state != nil {
		return *state, nil
	}

	seeded := Seed(userID, characterID, baseline)
	if err := t.store.SaveEmotionalState(ctx, seeded); err != nil {
		return types.EmotionalState{}, fmt.Errorf("failed to create emotional state: %w", err)
	}
	return seeded, nil
}

// ApplyDelta adds a clamped delta and optionally replaces the mood.
func (t *Tracker) ApplyDelta(ctx context.Context, userID, characterID string, baseline *types.EmotionalBaseline, delta types.EmotionalDelta, mood *types.Mood) (types.EmotionalState, error) {
	current, err := t.GetOrCreate(ctx, userID, characterID, baseline)
	if err != nil {
		return types.EmotionalState{}, err
	}
	if delta.IsZero() && mood == nil {
		return current, nil
	}

	next := Apply(current, delta, mood)
	if err := t.store.SaveEmotionalState(ctx, next); err != nil {
		return types.EmotionalState{}, fmt.Errorf("failed to update emotional state: %w", err)
	}
	return next, nil
}

// Reset forgets the state of the pair.
func (t *Tracker) Reset(ctx context.Context, userID, characterID string) error {
	if err := t.store.DeleteEmotionalState(ctx, userID, characterID); err != nil {
		return fmt.Errorf("failed to delete emotional state: %w", err)
	}
	return nil
}
