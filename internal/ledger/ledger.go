package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/easeaico/her-engine/internal/types"
)

var (
	// ErrQuotaExceeded is the business-rule rejection of a turn attempt.
	ErrQuotaExceeded = errors.New("daily message quota exceeded")
	// ErrItemNotOwned means the user has no unit of the item left.
	ErrItemNotOwned = errors.New("item not owned")
)

// DefaultEffectTTL is the expiry of an effect whose payload sets no ttl_seconds.
const DefaultEffectTTL = 24 * time.Hour

// QuotaError carries the counter state of a rejected turn.
type QuotaError struct {
	UserID string
	Used   int
	Limit  int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily message quota exceeded for user %s: %d/%d", e.UserID, e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// Store persists quota counters, effects, inventory and narrative flags.
type Store interface {
	QuotaUsed(ctx context.Context, userID string, day time.Time) (int, error)
	// IncrementQuota atomically bumps the day counter and returns the new value.
	IncrementQuota(ctx context.Context, userID string, day time.Time) (int, error)
	// ListEffects returns effects scoped to dialogID plus the user's global ones.
	ListEffects(ctx context.Context, userID, dialogID string) ([]types.ActiveEffect, error)
	CreateEffect(ctx context.Context, effect types.ActiveEffect) error
	UpdateEffect(ctx context.Context, effect types.ActiveEffect) error
	DeleteEffects(ctx context.Context, ids []string) error
	// ConsumeInventory removes one unit and returns what is left, or ErrItemNotOwned.
	ConsumeInventory(ctx context.Context, userID, itemID string) (int, error)
	SetFlag(ctx context.Context, userID, dialogID, key, value string) error
	// RunInTx runs fn against a transactional view of the store.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// ItemCatalog resolves items named by model directives.
type ItemCatalog interface {
	ItemBySlug(slug string) (*types.Item, bool)
}

// Ledger gates turns by quota and manages item effects.
type Ledger struct {
	store Store
	items ItemCatalog
}

// New returns a Ledger.
func New(store Store, items ItemCatalog) *Ledger {
	return &Ledger{store: store, items: items}
}

// Day is the UTC calendar day a quota counter belongs to.
func Day(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Admit rejects a turn when a limited tier already used its daily allowance.
func (l *Ledger) Admit(ctx context.Context, userID string, policy types.TierPolicy, now time.Time) error {
	if policy.Unlimited || policy.DailyLimit <= 0 {
		return nil
	}
	used, err := l.store.QuotaUsed(ctx, userID, Day(now))
	if err != nil {
		return fmt.Errorf("failed to read quota: %w", err)
	}
	if used >= policy.DailyLimit {
		return &QuotaError{UserID: userID, Used: used, Limit: policy.DailyLimit}
	}
	return nil
}

// Increment counts one turn for the user's current day.
func (l *Ledger) Increment(ctx context.Context, userID string, now time.Time) (int, error) {
	count, err := l.store.IncrementQuota(ctx, userID, Day(now))
	if err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}
	return count, nil
}

// ActiveEffects lists the live effects visible to a dialog.
func (l *Ledger) ActiveEffects(ctx context.Context, userID, dialogID string, now time.Time) ([]types.ActiveEffect, error) {
	effects, err := l.store.ListEffects(ctx, userID, dialogID)
	if err != nil {
		return nil, fmt.Errorf("failed to list effects: %w", err)
	}
	live := effects[:0]
	for _, effect := range effects {
		if !effect.Expired(now) {
			live = append(live, effect)
		}
	}
	return live, nil
}

// ActivateItem creates the effect an item grants once consumed.
func ActivateItem(ctx context.Context, store Store, userID, dialogID string, item types.Item, now time.Time) (types.ActiveEffect, error) {
	ttl := DefaultEffectTTL
	if item.Effect.TTLSeconds > 0 {
		ttl = time.Duration(item.Effect.TTLSeconds) * time.Second
	}
	effect := types.ActiveEffect{
		ID:        uuid.NewString(),
		UserID:    userID,
		DialogID:  dialogID,
		ItemID:    item.ID,
		Payload:   item.Effect,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if item.Effect.TTLMessages > 0 {
		remaining := item.Effect.TTLMessages
		effect.RemainingMessages = &remaining
	}
	if err := store.CreateEffect(ctx, effect); err != nil {
		return types.ActiveEffect{}, fmt.Errorf("failed to create effect: %w", err)
	}
	return effect, nil
}

// ApplyActions executes model directives in one transaction and returns those that took
// effect, offers included. Directives naming unknown or unowned items are skipped.
func (l *Ledger) ApplyActions(ctx context.Context, userID, dialogID string, actions []types.Action, now time.Time) ([]types.Action, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	var applied []types.Action
	err := l.store.RunInTx(ctx, func(tx Store) error {
		applied = applied[:0]
		for _, action := range actions {
			switch action.Type {
			case types.ActionConsumeItem:
				ok, err := l.consume(ctx, tx, userID, dialogID, action, now)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
			case types.ActionSetFlag:
				key := strings.TrimSpace(action.Flag)
				if key == "" {
					continue
				}
				if err := tx.SetFlag(ctx, userID, dialogID, key, action.Value); err != nil {
					return fmt.Errorf("failed to set flag: %w", err)
				}
			case types.ActionOfferItem:
				// advisory only
			default:
				slog.Debug("ignored unknown action", "type", string(action.Type))
				continue
			}
			applied = append(applied, action)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply actions: %w", err)
	}
	return applied, nil
}

func (l *Ledger) consume(ctx context.Context, tx Store, userID, dialogID string, action types.Action, now time.Time) (bool, error) {
	if l.items == nil {
		return false, nil
	}
	item, ok := l.items.ItemBySlug(action.ItemSlug)
	if !ok {
		slog.Warn("consume of unknown item", "user_id", userID, "item", action.ItemSlug)
		return false, nil
	}
	if _, err := tx.ConsumeInventory(ctx, userID, item.ID); err != nil {
		if errors.Is(err, ErrItemNotOwned) {
			slog.Warn("consume of item not owned", "user_id", userID, "item", action.ItemSlug)
			return false, nil
		}
		return false, fmt.Errorf("failed to consume inventory: %w", err)
	}
	if _, err := ActivateItem(ctx, tx, userID, dialogID, *item, now); err != nil {
		return false, err
	}
	return true, nil
}

// AfterTurn decrements message-bounded effects of the dialog and purges dead ones.
func (l *Ledger) AfterTurn(ctx context.Context, userID, dialogID string, now time.Time) error {
	effects, err := l.store.ListEffects(ctx, userID, dialogID)
	if err != nil {
		return fmt.Errorf("failed to list effects: %w", err)
	}

	var purge []string
	for _, effect := range effects {
		if effect.RemainingMessages != nil {
			remaining := *effect.RemainingMessages - 1
			effect.RemainingMessages = &remaining
		}
		if effect.Expired(now) {
			purge = append(purge, effect.ID)
			continue
		}
		if effect.RemainingMessages != nil {
			if err := l.store.UpdateEffect(ctx, effect); err != nil {
				return fmt.Errorf("failed to update effect: %w", err)
			}
		}
	}
	if len(purge) > 0 {
		if err := l.store.DeleteEffects(ctx, purge); err != nil {
			return fmt.Errorf("failed to purge effects: %w", err)
		}
	}
	return nil
}

// MemoryDepth is the number of facts recalled per turn: tier depth plus memory boosts.
func MemoryDepth(policy types.TierPolicy, effects []types.ActiveEffect) int {
	depth := policy.MemoryDepth
	for _, effect := range effects {
		if effect.Payload.Kind == types.EffectKindMemoryBoost && effect.Payload.TopK > 0 {
			depth += effect.Payload.TopK
		}
	}
	if depth < 0 {
		return 0
	}
	return depth
}
