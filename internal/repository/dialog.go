package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/her-engine/internal/types"
)

type dialogModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"index"`
	CharacterID string
	StoryID     string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (dialogModel) TableName() string {
	return "dialogs"
}

type turnModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	DialogID  string `gorm:"index"`
	Role      string
	Content   string
	CreatedAt time.Time
}

func (turnModel) TableName() string {
	return "dialog_turns"
}

// sessionModel holds the rolling summary and its interval watermark.
type sessionModel struct {
	DialogID       string `gorm:"primaryKey"`
	Summary        string
	SummarizedUpTo int
	UpdatedAt      time.Time
}

func (sessionModel) TableName() string {
	return "dialog_sessions"
}

// DialogRepo accesses dialogs, turns and summaries.
type DialogRepo struct {
	db *gorm.DB
}

// NewDialogRepo returns a DialogRepo.
func NewDialogRepo(db *gorm.DB) *DialogRepo {
	return &DialogRepo{db: db}
}

func (r *DialogRepo) CreateDialog(ctx context.Context, dialog types.Dialog) (types.Dialog, error) {
	if dialog.ID == "" {
		dialog.ID = uuid.NewString()
	}
	if dialog.Status == "" {
		dialog.Status = types.DialogOpen
	}
	record := dialogModel{
		ID:          dialog.ID,
		UserID:      dialog.UserID,
		CharacterID: dialog.CharacterID,
		StoryID:     dialog.StoryID,
		Status:      string(dialog.Status),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return types.Dialog{}, fmt.Errorf("failed to insert dialog: %w", err)
	}
	return dialogFromModel(record), nil
}

// GetDialog returns nil when the dialog does not exist.
func (r *DialogRepo) GetDialog(ctx context.Context, dialogID string) (*types.Dialog, error) {
	var record dialogModel
	err := r.db.WithContext(ctx).Where("id = ?", dialogID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dialog: %w", err)
	}
	dialog := dialogFromModel(record)
	return &dialog, nil
}

func (r *DialogRepo) SetDialogStatus(ctx context.Context, dialogID string, status types.DialogStatus) error {
	if err := r.db.WithContext(ctx).
		Model(&dialogModel{}).
		Where("id = ?", dialogID).
		Update("status", string(status)).Error; err != nil {
		return fmt.Errorf("failed to update dialog status: %w", err)
	}
	return nil
}

func (r *DialogRepo) AppendTurn(ctx context.Context, turn types.Turn) (types.Turn, error) {
	record := turnModel{
		DialogID: turn.DialogID,
		Role:     string(turn.Role),
		Content:  turn.Text,
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return types.Turn{}, fmt.Errorf("failed to insert turn: %w", err)
	}
	return turnFromModel(record), nil
}

func (r *DialogRepo) ListTurns(ctx context.Context, dialogID string) ([]types.Turn, error) {
	var records []turnModel
	if err := r.db.WithContext(ctx).
		Where("dialog_id = ?", dialogID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}

	results := make([]types.Turn, 0, len(records))
	for _, record := range records {
		results = append(results, turnFromModel(record))
	}
	return results, nil
}

func (r *DialogRepo) DeleteTurn(ctx context.Context, dialogID, turnID string) error {
	id, err := strconv.ParseInt(turnID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid turn id %q: %w", turnID, err)
	}
	if err := r.db.WithContext(ctx).
		Where("dialog_id = ? AND id = ?", dialogID, id).
		Delete(&turnModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete turn: %w", err)
	}
	return nil
}

// GetSession returns a zero state for a dialog without a summary yet.
func (r *DialogRepo) GetSession(ctx context.Context, dialogID string) (types.SessionState, error) {
	var record sessionModel
	err := r.db.WithContext(ctx).Where("dialog_id = ?", dialogID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.SessionState{DialogID: dialogID}, nil
	}
	if err != nil {
		return types.SessionState{}, fmt.Errorf("failed to get session: %w", err)
	}
	return types.SessionState{
		DialogID:       record.DialogID,
		Summary:        record.Summary,
		SummarizedUpTo: record.SummarizedUpTo,
		UpdatedAt:      record.UpdatedAt,
	}, nil
}

func (r *DialogRepo) SaveSession(ctx context.Context, state types.SessionState) error {
	record := sessionModel{
		DialogID:       state.DialogID,
		Summary:        state.Summary,
		SummarizedUpTo: state.SummarizedUpTo,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dialog_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "summarized_up_to", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// ResetDialog drops turns and the rolling summary of a dialog.
func (r *DialogRepo) ResetDialog(ctx context.Context, dialogID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dialog_id = ?", dialogID).Delete(&turnModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete turns: %w", err)
		}
		if err := tx.Where("dialog_id = ?", dialogID).Delete(&sessionModel{}).Error; err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

func dialogFromModel(model dialogModel) types.Dialog {
	return types.Dialog{
		ID:          model.ID,
		UserID:      model.UserID,
		CharacterID: model.CharacterID,
		StoryID:     model.StoryID,
		Status:      types.DialogStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}

func turnFromModel(model turnModel) types.Turn {
	return types.Turn{
		ID:        strconv.FormatInt(model.ID, 10),
		DialogID:  model.DialogID,
		Role:      types.Role(model.Role),
		Text:      model.Content,
		CreatedAt: model.CreatedAt,
	}
}
