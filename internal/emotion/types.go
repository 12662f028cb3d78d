package emotion

import (
	"math"

	"github.com/easeaico/her-engine/internal/types"
)

const (
	// MinScalar and MaxScalar bound every relationship scalar.
	MinScalar = -50
	MaxScalar = 50

	// MaxDeltaPerTurn bounds a single reply's influence on one scalar.
	MaxDeltaPerTurn = 10

	MoodNeutral      = "neutral"
	defaultIntensity = 5
)

// DefaultBaseline is used when the character defines no initial state.
var DefaultBaseline = types.EmotionalBaseline{
	Attraction: 0,
	Trust:      10,
	Affection:  5,
	Dominance:  0,
	Mood:       types.Mood{Primary: MoodNeutral, Intensity: defaultIntensity},
}

// ClampScalar bounds a relationship scalar to [-50, 50].
func ClampScalar(v int) int {
	return clamp(v, MinScalar, MaxScalar)
}

// ClampDelta bounds a per-turn change to ±10.
func ClampDelta(v int) int {
	return clamp(v, -MaxDeltaPerTurn, MaxDeltaPerTurn)
}

// ClampIntensity bounds mood intensity to 1-10.
func ClampIntensity(v int) int {
	return clamp(v, 1, 10)
}

// Closeness is the rounded mean of attraction, trust and affection, never negative.
func Closeness(state types.EmotionalState) int {
	avg := float64(state.Attraction+state.Trust+state.Affection) / 3
	c := int(math.Round(avg))
	if c < 0 {
		return 0
	}
	return c
}

// NormalizeMood fills defaults and bounds intensity.
func NormalizeMood(m types.Mood) types.Mood {
	if m.Primary == "" {
		m.Primary = MoodNeutral
	}
	if m.Intensity == 0 {
		m.Intensity = defaultIntensity
	}
	m.Intensity = ClampIntensity(m.Intensity)
	return m
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
