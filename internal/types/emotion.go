package types

import "time"

// Mood is the character's current emotional tag.
type Mood struct {
	Primary   string `json:"primary" yaml:"primary"`
	Secondary string `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Intensity int    `json:"intensity" yaml:"intensity"`
}

// EmotionalState is the relationship state of a (user, character) pair.
type EmotionalState struct {
	UserID      string    `json:"user_id"`
	CharacterID string    `json:"character_id"`
	Attraction  int       `json:"attraction"`
	Trust       int       `json:"trust"`
	Affection   int       `json:"affection"`
	Dominance   int       `json:"dominance"`
	Mood        Mood      `json:"mood"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EmotionalDelta is a change requested by a model reply.
type EmotionalDelta struct {
	Attraction int `json:"attraction"`
	Trust      int `json:"trust"`
	Affection  int `json:"affection"`
	Dominance  int `json:"dominance"`
}

// IsZero reports whether the delta changes nothing.
func (d EmotionalDelta) IsZero() bool {
	return d == EmotionalDelta{}
}
