package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/easeaico/her-engine/internal/types"
)

// factModel maps to the memory_facts table.
type factModel struct {
	ID          string `gorm:"primaryKey"`
	UserID      string `gorm:"index:idx_memory_facts_pair"`
	CharacterID string `gorm:"index:idx_memory_facts_pair"`
	Content     string
	Importance  int
	// Embedding stores vector representation for similarity search.
	Embedding *pgvector.Vector `gorm:"type:vector(768)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (factModel) TableName() string {
	return "memory_facts"
}

// FactRepo accesses durable memory facts.
type FactRepo struct {
	db *gorm.DB
}

// NewFactRepo returns a FactRepo.
func NewFactRepo(db *gorm.DB) *FactRepo {
	return &FactRepo{db: db}
}

func (r *FactRepo) ListFacts(ctx context.Context, userID, characterID string) ([]types.MemoryFact, error) {
	var records []factModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	return factsFromModels(records), nil
}

func (r *FactRepo) AddFact(ctx context.Context, fact types.MemoryFact) (types.MemoryFact, error) {
	if fact.ID == "" {
		fact.ID = uuid.NewString()
	}
	record := factModel{
		ID:          fact.ID,
		UserID:      fact.UserID,
		CharacterID: fact.CharacterID,
		Content:     fact.Content,
		Importance:  fact.Importance,
		Embedding:   toVector(fact.Embedding),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return types.MemoryFact{}, fmt.Errorf("failed to insert fact: %w", err)
	}
	return factFromModel(record), nil
}

func (r *FactRepo) UpdateFact(ctx context.Context, fact types.MemoryFact) error {
	updates := map[string]any{
		"content":    fact.Content,
		"importance": fact.Importance,
		"updated_at": time.Now(),
	}
	if vector := toVector(fact.Embedding); vector != nil {
		updates["embedding"] = vector
	}
	if err := r.db.WithContext(ctx).
		Model(&factModel{}).
		Where("id = ? AND user_id = ? AND character_id = ?", fact.ID, fact.UserID, fact.CharacterID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update fact: %w", err)
	}
	return nil
}

func (r *FactRepo) DeleteFact(ctx context.Context, userID, characterID, id string) error {
	if err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND character_id = ?", id, userID, characterID).
		Delete(&factModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete fact: %w", err)
	}
	return nil
}

func (r *FactRepo) DeleteFacts(ctx context.Context, userID, characterID string) error {
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Delete(&factModel{}).Error; err != nil {
		return fmt.Errorf("failed to delete facts: %w", err)
	}
	return nil
}

// SearchFacts orders the pair's facts by cosine distance to embedding.
func (r *FactRepo) SearchFacts(ctx context.Context, userID, characterID string, embedding []float32, limit int) ([]types.MemoryFact, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	var records []factModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ? AND embedding IS NOT NULL", userID, characterID).
		Clauses(clause.OrderBy{
			Expression: clause.Expr{SQL: "embedding <=> ?", Vars: []any{pgvector.NewVector(embedding)}},
		}).
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to search similar facts: %w", err)
	}
	return factsFromModels(records), nil
}

func toVector(embedding []float32) *pgvector.Vector {
	if len(embedding) == 0 {
		return nil
	}
	v := pgvector.NewVector(embedding)
	return &v
}

// factFromModel converts database model to domain struct.
func factFromModel(model factModel) types.MemoryFact {
	fact := types.MemoryFact{
		ID:          model.ID,
		UserID:      model.UserID,
		CharacterID: model.CharacterID,
		Content:     model.Content,
		Importance:  model.Importance,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
	if model.Embedding != nil {
		fact.Embedding = model.Embedding.Slice()
	}
	return fact
}

func factsFromModels(records []factModel) []types.MemoryFact {
	results := make([]types.MemoryFact, 0, len(records))
	for _, record := range records {
		results = append(results, factFromModel(record))
	}
	return results
}
