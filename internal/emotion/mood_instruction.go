package emotion

import "strings"

// MoodInstruction returns a short behavior guideline for the given mood.
func MoodInstruction(mood string) string {
	switch strings.ToLower(strings.TrimSpace(mood)) {
	case "angry", "злость", "раздражение":
		return "Тон холодный и краткий, без нежностей."
	case "sad", "грусть", "печаль":
		return "Тон приглушённый и сдержанный, с лёгкой обидой."
	case "happy", "радость":
		return "Тон тёплый и живой, уместна нежность."
	case "playful", "игривость":
		return "Тон лёгкий и дразнящий."
	case "shy", "смущение":
		return "Отвечай застенчиво, с паузами и недосказанностью."
	default:
		return ""
	}
}
