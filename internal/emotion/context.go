package emotion

import (
	"fmt"
	"strings"

	"github.com/easeaico/her-engine/internal/types"
)

// Context renders the relationship summary line shown to the model.
func Context(state types.EmotionalState) string {
	closeness := Closeness(state)
	parts := []string{fmt.Sprintf("Отношения: %s (близость %d/%d)", closenessLabel(closeness), closeness, MaxScalar)}

	var dims []string
	for _, label := range []string{
		scaleLabel(state.Attraction, "страстное влечение", "сильное влечение", "лёгкий интерес", "сильное отталкивание", "неприязнь"),
		scaleLabel(state.Trust, "абсолютное доверие", "высокое доверие", "осторожное доверие", "глубокое недоверие", "подозрительность"),
		scaleLabel(state.Affection, "глубокая любовь", "сильная привязанность", "симпатия", "враждебность", "холодность"),
	} {
		if label != "" {
			dims = append(dims, label)
		}
	}
	if len(dims) > 0 {
		parts = append(parts, strings.Join(dims, ", "))
	}
	if label := dominanceLabel(state.Dominance); label != "" {
		parts = append(parts, label)
	}

	mood := NormalizeMood(state.Mood)
	moodLine := fmt.Sprintf("Настроение: %s (%d/10)", mood.Primary, mood.Intensity)
	if mood.Secondary != "" {
		moodLine = fmt.Sprintf("Настроение: %s, %s (%d/10)", mood.Primary, mood.Secondary, mood.Intensity)
	}
	parts = append(parts, moodLine)
	if hint := MoodInstruction(mood.Primary); hint != "" {
		parts = append(parts, strings.TrimSuffix(hint, "."))
	}

	return strings.Join(parts, ". ") + "."
}

func closenessLabel(c int) string {
	switch {
	case c >= 40:
		return "очень близкие"
	case c >= 25:
		return "тёплые"
	case c >= 10:
		return "нейтральные"
	default:
		return "прохладные"
	}
}

// scaleLabel picks a label on the [-50, 50] scale; thresholds are 40/25/10 and -30/-15.
func scaleLabel(v int, top, high, mild, veryLow, low string) string {
	switch {
	case v >= 40:
		return top
	case v >= 25:
		return high
	case v >= 10:
		return mild
	case v <= -30:
		return veryLow
	case v <= -15:
		return low
	default:
		return ""
	}
}

func dominanceLabel(v int) string {
	switch {
	case v >= 30:
		return "персонаж полностью доминирует"
	case v >= 15:
		return "персонаж ведёт"
	case v <= -30:
		return "пользователь полностью доминирует"
	case v <= -15:
		return "пользователь ведёт"
	default:
		return ""
	}
}
