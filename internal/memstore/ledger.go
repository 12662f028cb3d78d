package memstore

import (
	"context"
	"maps"
	"sort"
	"time"

	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/types"
)

var _ ledger.Store = (*Store)(nil)

func (s *Store) QuotaUsed(ctx context.Context, userID string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota[quotaKey{userID, day.Format(time.DateOnly)}], nil
}

func (s *Store) IncrementQuota(ctx context.Context, userID string, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := quotaKey{userID, day.Format(time.DateOnly)}
	s.quota[key]++
	return s.quota[key], nil
}

func (s *Store) ListEffects(ctx context.Context, userID, dialogID string) ([]types.ActiveEffect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.ActiveEffect
	for _, effect := range s.effects {
		if effect.UserID != userID {
			continue
		}
		if effect.DialogID != "" && effect.DialogID != dialogID {
			continue
		}
		out = append(out, copyEffect(effect))
	}
	sortEffects(out)
	return out, nil
}

func (s *Store) CreateEffect(ctx context.Context, effect types.ActiveEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.effects[effect.ID] = copyEffect(effect)
	return nil
}

func (s *Store) UpdateEffect(ctx context.Context, effect types.ActiveEffect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.effects[effect.ID]; ok {
		s.effects[effect.ID] = copyEffect(effect)
	}
	return nil
}

func (s *Store) DeleteEffects(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.effects, id)
	}
	return nil
}

// GrantItem adds units of an item to a user's inventory.
func (s *Store) GrantItem(ctx context.Context, userID, itemID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[inventoryKey{userID, itemID}] += quantity
	return nil
}

// Inventory returns how many units of an item the user owns.
func (s *Store) Inventory(userID, itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inventory[inventoryKey{userID, itemID}]
}

func (s *Store) ConsumeInventory(ctx context.Context, userID, itemID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := inventoryKey{userID, itemID}
	if s.inventory[key] <= 0 {
		return 0, ledger.ErrItemNotOwned
	}
	s.inventory[key]--
	return s.inventory[key], nil
}

func (s *Store) SetFlag(ctx context.Context, userID, dialogID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flagKey{userID, dialogID, key}] = value
	return nil
}

// Flag returns a narrative flag value.
func (s *Store) Flag(userID, dialogID, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.flags[flagKey{userID, dialogID, key}]
	return v, ok
}

// RunInTx serializes transactions and restores ledger state when fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	effects := maps.Clone(s.effects)
	inventory := maps.Clone(s.inventory)
	flags := maps.Clone(s.flags)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.effects, s.inventory, s.flags = effects, inventory, flags
		s.mu.Unlock()
		return err
	}
	return nil
}

func copyEffect(effect types.ActiveEffect) types.ActiveEffect {
	if effect.RemainingMessages != nil {
		remaining := *effect.RemainingMessages
		effect.RemainingMessages = &remaining
	}
	return effect
}

func sortEffects(effects []types.ActiveEffect) {
	sort.SliceStable(effects, func(i, j int) bool {
		if effects[i].CreatedAt.Equal(effects[j].CreatedAt) {
			return effects[i].ID < effects[j].ID
		}
		return effects[i].CreatedAt.Before(effects[j].CreatedAt)
	})
}
