package types

import "time"

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DialogStatus gates whether a dialog accepts new turns.
type DialogStatus string

const (
	DialogOpen      DialogStatus = "open"
	DialogCancelled DialogStatus = "cancelled"
)

// Dialog is one conversation thread between a user and a character.
type Dialog struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	CharacterID string       `json:"character_id"`
	StoryID     string       `json:"story_id,omitempty"`
	Status      DialogStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Turn is one immutable message of a dialog.
type Turn struct {
	ID        string    `json:"id"`
	DialogID  string    `json:"dialog_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionState is the rolling summary of a dialog.
type SessionState struct {
	DialogID string `json:"dialog_id"`
	Summary  string `json:"summary"`
	// SummarizedUpTo counts turns already folded by interval summarization.
	SummarizedUpTo int       `json:"summarized_up_to"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// User is the caller profile visible to the prompt.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Gender string `json:"gender"`
	Tier   Tier   `json:"tier"`
}
