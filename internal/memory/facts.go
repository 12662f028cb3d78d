package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/easeaico/her-engine/internal/types"
)

// FactStore persists durable facts per (user, character).
type FactStore interface {
	ListFacts(ctx context.Context, userID, characterID string) ([]types.MemoryFact, error)
	AddFact(ctx context.Context, fact types.MemoryFact) (types.MemoryFact, error)
	UpdateFact(ctx context.Context, fact types.MemoryFact) error
	DeleteFact(ctx context.Context, userID, characterID, id string) error
	DeleteFacts(ctx context.Context, userID, characterID string) error
	SearchFacts(ctx context.Context, userID, characterID string, embedding []float32, limit int) ([]types.MemoryFact, error)
}

// Facts applies memory operations and recalls facts for the prompt.
type Facts struct {
	store    FactStore
	embedder Embedder
}

// NewFacts returns a Facts service. embedder may be nil, in which case recall ranks by importance.
func NewFacts(store FactStore, embedder Embedder) *Facts {
	return &Facts{store: store, embedder: embedder}
}

// List returns every fact of the pair.
func (f *Facts) List(ctx context.Context, userID, characterID string) ([]types.MemoryFact, error) {
	facts, err := f.store.ListFacts(ctx, userID, characterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	return facts, nil
}

// Apply executes ops one by one. Failures are logged and skipped; the number applied is returned.
func (f *Facts) Apply(ctx context.Context, userID, characterID string, existing []types.MemoryFact, ops []Operation) int {
	seen := make(map[string]bool, len(existing))
	for _, fact := range existing {
		seen[normalizeFact(fact.Content)] = true
	}

	applied := 0
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpAdd:
			key := normalizeFact(op.Content)
			if seen[key] {
				continue
			}
			seen[key] = true
			_, err = f.store.AddFact(ctx, types.MemoryFact{
				UserID:      userID,
				CharacterID: characterID,
				Content:     op.Content,
				Importance:  ClampImportance(op.Importance),
				Embedding:   f.embed(ctx, op.Content),
			})
		case OpUpdate:
			fact := findFact(existing, op.ID)
			if fact == nil {
				continue
			}
			fact.Content = op.Content
			if op.Importance != 0 {
				fact.Importance = ClampImportance(op.Importance)
			}
			fact.Embedding = f.embed(ctx, op.Content)
			err = f.store.UpdateFact(ctx, *fact)
		case OpDelete:
			err = f.store.DeleteFact(ctx, userID, characterID, op.ID)
		}
		if err != nil {
			slog.Warn("failed to apply memory operation", "op", string(op.Kind), "id", op.ID, "error", err.Error())
			continue
		}
		applied++
	}
	return applied
}

// Recall picks up to k facts for the prompt: by embedding similarity to query when
// possible, otherwise by importance then recency.
func (f *Facts) Recall(ctx context.Context, userID, characterID, query string, k int, all []types.MemoryFact) []types.MemoryFact {
	if k <= 0 || len(all) == 0 {
		return nil
	}
	if len(all) > k && f.embedder != nil && strings.TrimSpace(query) != "" {
		vec, err := f.embedder.EmbedQuery(ctx, query)
		if err == nil && len(vec) > 0 {
			found, err := f.store.SearchFacts(ctx, userID, characterID, vec, k)
			if err == nil && len(found) > 0 {
				return found
			}
			if err != nil {
				slog.Warn("failed to search facts", "error", err.Error())
			}
		} else if err != nil {
			slog.Warn("failed to embed recall query", "error", err.Error())
		}
	}
	return TopByImportance(all, k)
}

// Reset deletes every fact of the pair.
func (f *Facts) Reset(ctx context.Context, userID, characterID string) error {
	if err := f.store.DeleteFacts(ctx, userID, characterID); err != nil {
		return fmt.Errorf("failed to delete facts: %w", err)
	}
	return nil
}

// TopByImportance returns the k most important facts, newer first on ties.
func TopByImportance(facts []types.MemoryFact, k int) []types.MemoryFact {
	sorted := make([]types.MemoryFact, len(facts))
	copy(sorted, facts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Importance != sorted[j].Importance {
			return sorted[i].Importance > sorted[j].Importance
		}
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func (f *Facts) embed(ctx context.Context, text string) []float32 {
	if f.embedder == nil {
		return nil
	}
	vec, err := f.embedder.EmbedDocument(ctx, text)
	if err != nil {
		slog.Warn("failed to embed fact", "error", err.Error())
		return nil
	}
	return vec
}

func findFact(facts []types.MemoryFact, id string) *types.MemoryFact {
	for i := range facts {
		if facts[i].ID == id {
			fact := facts[i]
			return &fact
		}
	}
	return nil
}

func normalizeFact(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
