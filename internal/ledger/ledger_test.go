package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/memstore"
	"github.com/easeaico/her-engine/internal/types"
)

type catalog map[string]types.Item

func (c catalog) ItemBySlug(slug string) (*types.Item, bool) {
	item, ok := c[slug]
	if !ok {
		return nil, false
	}
	return &item, true
}

var testItems = catalog{
	"plot-key": {ID: "item-key", Slug: "plot-key", Effect: types.EffectPayload{Kind: "story.unlock", Hint: "дверь открыта", TTLMessages: 2}},
	"memory-boost": {ID: "item-boost", Slug: "memory-boost", Effect: types.EffectPayload{Kind: types.EffectKindMemoryBoost, TopK: 4, TTLSeconds: 60}},
}

func TestAdmitAndIncrement(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	l := ledger.New(store, testItems)
	now := time.Date(2025, 3, 1, 23, 30, 0, 0, time.UTC)
	policy := types.TierPolicy{DailyLimit: 1}

	if err := l.Admit(ctx, "u1", policy, now); err != nil {
		t.Fatalf("first turn rejected: %v", err)
	}
	if n, err := l.Increment(ctx, "u1", now); err != nil || n != 1 {
		t.Fatalf("expected counter 1, got %d, %v", n, err)
	}

	err := l.Admit(ctx, "u1", policy, now)
	var quotaErr *ledger.QuotaError
	if !errors.Is(err, ledger.ErrQuotaExceeded) || !errors.As(err, &quotaErr) || quotaErr.Limit != 1 {
		t.Fatalf("expected quota error, got %v", err)
	}

	// the counter itself never refuses
	if n, _ := l.Increment(ctx, "u1", now); n != 2 {
		t.Fatalf("expected counter 2, got %d", n)
	}

	if err := l.Admit(ctx, "u1", policy, now.Add(time.Hour)); err != nil {
		t.Fatalf("expected new day to reset quota: %v", err)
	}
	if err := l.Admit(ctx, "u1", types.TierPolicy{DailyLimit: 1, Unlimited: true}, now); err != nil {
		t.Fatalf("expected unlimited tier admitted: %v", err)
	}
}

func TestApplyActionsConsumeAndOffer(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	if err := store.GrantItem(ctx, "u1", "item-key", 2); err != nil {
		t.Fatalf("GrantItem failed: %v", err)
	}
	l := ledger.New(store, testItems)
	now := time.Now()

	applied, err := l.ApplyActions(ctx, "u1", "d1", []types.Action{
		{Type: types.ActionOfferItem, ItemSlug: "plot-key"},
		{Type: "DANCE"},
	}, now)
	if err != nil || len(applied) != 1 || applied[0].Type != types.ActionOfferItem {
		t.Fatalf("unexpected offer result: %#v, %v", applied, err)
	}
	if store.Inventory("u1", "item-key") != 2 {
		t.Fatalf("offer must not mutate inventory")
	}

	applied, err = l.ApplyActions(ctx, "u1", "d1", []types.Action{
		{Type: types.ActionConsumeItem, ItemSlug: "plot-key"},
		{Type: types.ActionSetFlag, Flag: "door_open", Value: "true"},
	}, now)
	if err != nil || len(applied) != 2 {
		t.Fatalf("unexpected consume result: %#v, %v", applied, err)
	}
	if store.Inventory("u1", "item-key") != 1 {
		t.Fatalf("expected inventory decremented by one, got %d", store.Inventory("u1", "item-key"))
	}
	effects, _ := l.ActiveEffects(ctx, "u1", "d1", now)
	if len(effects) != 1 || effects[0].RemainingMessages == nil || *effects[0].RemainingMessages != 2 {
		t.Fatalf("expected one effect with 2 messages, got %#v", effects)
	}
	if v, ok := store.Flag("u1", "d1", "door_open"); !ok || v != "true" {
		t.Fatalf("expected flag set")
	}
}

func TestApplyActionsSkipsUnownedItem(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	l := ledger.New(store, testItems)

	applied, err := l.ApplyActions(ctx, "u1", "d1", []types.Action{
		{Type: types.ActionConsumeItem, ItemSlug: "plot-key"},
		{Type: types.ActionConsumeItem, ItemSlug: "unknown"},
	}, time.Now())
	if err != nil || len(applied) != 0 {
		t.Fatalf("expected nothing applied, got %#v, %v", applied, err)
	}
	if effects, _ := l.ActiveEffects(ctx, "u1", "d1", time.Now()); len(effects) != 0 {
		t.Fatalf("expected no effects, got %#v", effects)
	}
}

func TestAfterTurnDecrementsAndPurges(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_ = store.GrantItem(ctx, "u1", "item-key", 1)
	_ = store.GrantItem(ctx, "u1", "item-boost", 1)
	l := ledger.New(store, testItems)
	now := time.Now()

	if _, err := l.ApplyActions(ctx, "u1", "d1", []types.Action{
		{Type: types.ActionConsumeItem, ItemSlug: "plot-key"},
		{Type: types.ActionConsumeItem, ItemSlug: "memory-boost"},
	}, now); err != nil {
		t.Fatalf("ApplyActions failed: %v", err)
	}

	if err := l.AfterTurn(ctx, "u1", "d1", now); err != nil {
		t.Fatalf("AfterTurn failed: %v", err)
	}
	effects, _ := l.ActiveEffects(ctx, "u1", "d1", now)
	if len(effects) != 2 {
		t.Fatalf("expected both effects alive, got %#v", effects)
	}

	if err := l.AfterTurn(ctx, "u1", "d1", now); err != nil {
		t.Fatalf("AfterTurn failed: %v", err)
	}
	effects, _ = store.ListEffects(ctx, "u1", "d1")
	if len(effects) != 1 || effects[0].Payload.Kind != types.EffectKindMemoryBoost {
		t.Fatalf("expected message-bounded effect purged, got %#v", effects)
	}

	if err := l.AfterTurn(ctx, "u1", "d1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("AfterTurn failed: %v", err)
	}
	if effects, _ = store.ListEffects(ctx, "u1", "d1"); len(effects) != 0 {
		t.Fatalf("expected expired effect purged, got %#v", effects)
	}
}

func TestEffectsScopedToDialog(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	l := ledger.New(store, testItems)
	now := time.Now()

	item, _ := testItems.ItemBySlug("memory-boost")
	if _, err := ledger.ActivateItem(ctx, store, "u1", "d1", *item, now); err != nil {
		t.Fatalf("ActivateItem failed: %v", err)
	}
	if _, err := ledger.ActivateItem(ctx, store, "u1", "", *item, now); err != nil {
		t.Fatalf("ActivateItem failed: %v", err)
	}

	if effects, _ := l.ActiveEffects(ctx, "u1", "d2", now); len(effects) != 1 {
		t.Fatalf("expected only global effect in other dialog, got %#v", effects)
	}
	effects, _ := l.ActiveEffects(ctx, "u1", "d1", now)
	if got := ledger.MemoryDepth(types.TierPolicy{MemoryDepth: 3}, effects); got != 11 {
		t.Fatalf("expected depth 3+4+4, got %d", got)
	}
}

func TestActivateItemDefaultExpiry(t *testing.T) {
	store := memstore.New()
	now := time.Now()
	effect, err := ledger.ActivateItem(context.Background(), store, "u1", "d1", types.Item{ID: "x"}, now)
	if err != nil {
		t.Fatalf("ActivateItem failed: %v", err)
	}
	if !effect.ExpiresAt.Equal(now.Add(ledger.DefaultEffectTTL)) || effect.RemainingMessages != nil {
		t.Fatalf("unexpected effect: %#v", effect)
	}
}
