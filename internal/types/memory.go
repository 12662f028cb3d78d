package types

import "time"

// MemoryFact is a durable statement about the user, shared across dialogs.
type MemoryFact struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CharacterID string    `json:"character_id"`
	Content     string    `json:"content"`
	Importance  int       `json:"importance"`
	Embedding   []float32 `json:"-"` // embedding vectors, not serialized
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
