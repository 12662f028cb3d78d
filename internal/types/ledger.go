package types

import "time"

// Tier is the subscription level of a user.
type Tier string

const (
	TierFree  Tier = "free"
	TierPlus  Tier = "plus"
	TierPro   Tier = "pro"
	TierUltra Tier = "ultra"
)

// TierPolicy is the quota and memory-depth row for one tier.
type TierPolicy struct {
	DailyLimit  int  `json:"daily_limit" yaml:"daily_limit"`
	Unlimited   bool `json:"unlimited" yaml:"unlimited"`
	MemoryDepth int  `json:"memory_depth" yaml:"memory_depth"`
}

// EffectKindMemoryBoost widens the number of facts recalled per turn.
const EffectKindMemoryBoost = "memory.boost"

// EffectPayload describes what an item does once consumed.
type EffectPayload struct {
	Kind        string `json:"kind" yaml:"kind"`
	TopK        int    `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	Hint        string `json:"hint,omitempty" yaml:"hint,omitempty"`
	TTLMessages int    `json:"ttl_messages,omitempty" yaml:"ttl_messages,omitempty"`
	TTLSeconds  int    `json:"ttl_seconds,omitempty" yaml:"ttl_seconds,omitempty"`
}

// Item is a purchasable catalog entry.
type Item struct {
	ID     string        `json:"id" yaml:"id"`
	Slug   string        `json:"slug" yaml:"slug"`
	Title  string        `json:"title" yaml:"title"`
	Price  int           `json:"price" yaml:"price"`
	Effect EffectPayload `json:"effect" yaml:"effect"`
}

// ActiveEffect is a time- or usage-boxed modifier. Empty DialogID means global to the user.
type ActiveEffect struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id"`
	DialogID          string        `json:"dialog_id,omitempty"`
	ItemID            string        `json:"item_id"`
	Payload           EffectPayload `json:"payload"`
	ExpiresAt         time.Time     `json:"expires_at"`
	RemainingMessages *int          `json:"remaining_messages,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Expired reports whether the effect should be purged.
func (e ActiveEffect) Expired(now time.Time) bool {
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		return true
	}
	return e.RemainingMessages != nil && *e.RemainingMessages <= 0
}

// ActionType names a directive emitted by the model.
type ActionType string

const (
	ActionConsumeItem ActionType = "CONSUME_ITEM"
	ActionSetFlag     ActionType = "SET_FLAG"
	ActionOfferItem   ActionType = "OFFER_ITEM"
)

// Action is a structured directive embedded in a reply.
type Action struct {
	Type     ActionType `json:"type"`
	ItemSlug string     `json:"item_slug,omitempty"`
	Flag     string     `json:"flag,omitempty"`
	Value    string     `json:"value,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}
