package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/her-engine/internal/ledger"
	"github.com/easeaico/her-engine/internal/types"
)

type quotaModel struct {
	UserID string    `gorm:"primaryKey"`
	Day    time.Time `gorm:"primaryKey;type:date"`
	Count  int
}

func (quotaModel) TableName() string {
	return "quota_counters"
}

type effectModel struct {
	ID       string `gorm:"primaryKey"`
	UserID   string `gorm:"index"`
	DialogID string
	ItemID   string
	// Payload is the item effect as granted, stored as JSONB.
	Payload           json.RawMessage `gorm:"type:jsonb"`
	ExpiresAt         time.Time
	RemainingMessages *int
	CreatedAt         time.Time
}

func (effectModel) TableName() string {
	return "active_effects"
}

type inventoryModel struct {
	UserID   string `gorm:"primaryKey"`
	ItemID   string `gorm:"primaryKey"`
	Quantity int
}

func (inventoryModel) TableName() string {
	return "inventories"
}

type flagModel struct {
	UserID    string `gorm:"primaryKey"`
	DialogID  string `gorm:"primaryKey"`
	Key       string `gorm:"primaryKey"`
	Value     string
	UpdatedAt time.Time
}

func (flagModel) TableName() string {
	return "narrative_flags"
}

var _ ledger.Store = (*LedgerRepo)(nil)

// LedgerRepo accesses quota counters, effects, inventory and flags.
type LedgerRepo struct {
	db *gorm.DB
}

// NewLedgerRepo returns a LedgerRepo.
func NewLedgerRepo(db *gorm.DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

func (r *LedgerRepo) QuotaUsed(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	if err := r.db.WithContext(ctx).
		Model(&quotaModel{}).
		Select("COALESCE(MAX(count), 0)").
		Where("user_id = ? AND day = ?", userID, day).
		Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return count, nil
}

// IncrementQuota upserts the day counter in one statement.
func (r *LedgerRepo) IncrementQuota(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	if err := r.db.WithContext(ctx).Raw(`
		INSERT INTO quota_counters (user_id, day, count)
		VALUES (?, ?, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET count = quota_counters.count + 1
		RETURNING count`, userID, day).
		Scan(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to increment quota: %w", err)
	}
	return count, nil
}

func (r *LedgerRepo) ListEffects(ctx context.Context, userID, dialogID string) ([]types.ActiveEffect, error) {
	var records []effectModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND (dialog_id = ? OR dialog_id = '')", userID, dialogID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query effects: %w", err)
	}

	results := make([]types.ActiveEffect, 0, len(records))
	for _, record := range records {
		var payload types.EffectPayload
		if err := unmarshalJSON(record.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode effect payload: %w", err)
		}
		results = append(results, types.ActiveEffect{
			ID:                record.ID,
			UserID:            record.UserID,
			DialogID:          record.DialogID,
			ItemID:            record.ItemID,
			Payload:           payload,
			ExpiresAt:         record.ExpiresAt,
			RemainingMessages: record.RemainingMessages,
			CreatedAt:         record.CreatedAt,
		})
	}
	return results, nil
}

func (r *LedgerRepo) CreateEffect(ctx context.Context, effect types.ActiveEffect) error {
	payload, err := marshalJSON(effect.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode effect payload: %w", err)
	}
	record := effectModel{
		ID:                effect.ID,
		UserID:            effect.UserID,
		DialogID:          effect.DialogID,
		ItemID:            effect.ItemID,
		Payload:           payload,
		ExpiresAt:         effect.ExpiresAt,
		RemainingMessages: effect.RemainingMessages,
		CreatedAt:         effect.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert effect: %w", err)
	}
	return nil
}

func (r *LedgerRepo) UpdateEffect(ctx context.Context, effect types.ActiveEffect) error {
	if err := r.db.WithContext(ctx).
		Model(&effectModel{}).
		Where("id = ?", effect.ID).
		Updates(map[string]any{
			"remaining_messages": effect.RemainingMessages,
			"expires_at":         effect.ExpiresAt,
		}).Error; err != nil {
		return fmt.Errorf("failed to update effect: %w", err)
	}
	return nil
}

func (r *LedgerRepo) DeleteEffects(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&effectModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete effects: %w", err)
	}
	return nil
}

// GrantItem adds units of an item to a user's inventory.
func (r *LedgerRepo) GrantItem(ctx context.Context, userID, itemID string, quantity int) error {
	record := inventoryModel{UserID: userID, ItemID: itemID, Quantity: quantity}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity": gorm.Expr("inventories.quantity + ?", quantity),
		}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to grant item: %w", err)
	}
	return nil
}

// ConsumeInventory decrements only when a unit is left, so concurrent consumers never go negative.
func (r *LedgerRepo) ConsumeInventory(ctx context.Context, userID, itemID string) (int, error) {
	var remaining []int
	if err := r.db.WithContext(ctx).Raw(`
		UPDATE inventories SET quantity = quantity - 1
		WHERE user_id = ? AND item_id = ? AND quantity > 0
		RETURNING quantity`, userID, itemID).
		Scan(&remaining).Error; err != nil {
		return 0, fmt.Errorf("failed to consume inventory: %w", err)
	}
	if len(remaining) == 0 {
		return 0, ledger.ErrItemNotOwned
	}
	return remaining[0], nil
}

func (r *LedgerRepo) SetFlag(ctx context.Context, userID, dialogID, key, value string) error {
	record := flagModel{UserID: userID, DialogID: dialogID, Key: key, Value: value}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "dialog_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to set flag: %w", err)
	}
	return nil
}

func (r *LedgerRepo) RunInTx(ctx context.Context, fn func(tx ledger.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&LedgerRepo{db: tx})
	})
}
