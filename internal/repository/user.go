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

type userModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Gender    string
	Tier      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (userModel) TableName() string {
	return "users"
}

// UserRepo accesses user profiles.
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo returns a UserRepo.
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUser returns nil when the user is unknown.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (*types.User, error) {
	var record userModel
	err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &types.User{
		ID:     record.ID,
		Name:   record.Name,
		Gender: record.Gender,
		Tier:   types.Tier(record.Tier),
	}, nil
}

// PutUser creates or replaces a user profile.
func (r *UserRepo) PutUser(ctx context.Context, user types.User) error {
	record := userModel{
		ID:     user.ID,
		Name:   user.Name,
		Gender: user.Gender,
		Tier:   string(user.Tier),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "gender", "tier", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}
