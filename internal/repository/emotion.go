package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/her-engine/internal/types"
)

type emotionModel struct {
	UserID        string `gorm:"primaryKey"`
	CharacterID   string `gorm:"primaryKey"`
	Attraction    int
	Trust         int
	Affection     int
	Dominance     int
	MoodPrimary   string
	MoodSecondary string
	MoodIntensity int
	UpdatedAt     time.Time
}

func (emotionModel) TableName() string {
	return "emotional_states"
}

// EmotionRepo accesses relationship state per (user, character).
type EmotionRepo struct {
	db *gorm.DB
}

// NewEmotionRepo returns an EmotionRepo.
func NewEmotionRepo(db *gorm.DB) *EmotionRepo {
	return &EmotionRepo{db: db}
}

// GetEmotionalState returns nil when the pair has no state yet.
func (r *EmotionRepo) GetEmotionalState(ctx context.Context, userID, characterID string) (*types.EmotionalState, error) {
	var record emotionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get emotional state: %w", err)
	}
	return &types.EmotionalState{
		UserID:      record.UserID,
		CharacterID: record.CharacterID,
		Attraction:  record.Attraction,
		Trust:       record.Trust,
		Affection:   record.Affection,
		Dominance:   record.Dominance,
		Mood: types.Mood{
			Primary:   record.MoodPrimary,
			Secondary: record.MoodSecondary,
			Intensity: record.MoodIntensity,
		},
		UpdatedAt: record.UpdatedAt,
	}, nil
}

func (r *EmotionRepo) SaveEmotionalState(ctx context.Context, state types.EmotionalState) error {
	record := emotionModel{
		UserID:        state.UserID,
		CharacterID:   state.CharacterID,
		Attraction:    state.Attraction,
		Trust:         state.Trust,
		Affection:     state.Affection,
		Dominance:     state.Dominance,
		MoodPrimary:   state.Mood.Primary,
		MoodSecondary: state.Mood.Secondary,
		MoodIntensity: state.Mood.Intensity,
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "character_id"}},
		UpdateAll: true,
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save emotional state: %w", err)
	}
	return nil
}

func (r *EmotionRepo) DeleteEmotionalState(ctx context.Context, userID, characterID string) error {
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Delete(&emotionModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete emotional state: %w", err)
	}
	return nil
}
