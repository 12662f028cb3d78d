package emotion

import "github.com/easeaico/her-engine/internal/types"

// Seed builds a fresh state from a character baseline.
func Seed(userID, characterID string, baseline *types.EmotionalBaseline) types.EmotionalState {
	b := DefaultBaseline
	if baseline != nil {
		b = *baseline
	}
	return types.EmotionalState{
		UserID:      userID,
		CharacterID: characterID,
		Attraction:  ClampScalar(b.Attraction),
		Trust:       ClampScalar(b.Trust),
		Affection:   ClampScalar(b.Affection),
		Dominance:   ClampScalar(b.Dominance),
		Mood:        NormalizeMood(b.Mood),
	}
}

// Apply adds delta to state and clamps every scalar. A nil mood keeps the current one.
func Apply(state types.EmotionalState, delta types.EmotionalDelta, mood *types.Mood) types.EmotionalState {
	state.Attraction = ClampScalar(state.Attraction + delta.Attraction)
	state.Trust = ClampScalar(state.Trust + delta.Trust)
	state.Affection = ClampScalar(state.Affection + delta.Affection)
	state.Dominance = ClampScalar(state.Dominance + delta.Dominance)
	if mood != nil {
		state.Mood = NormalizeMood(*mood)
	}
	return state
}
