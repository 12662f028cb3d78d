package reconcile

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/easeaico/her-engine/internal/emotion"
	"github.com/easeaico/her-engine/internal/types"
)

const maxMoodLabelLength = 32

var replyKeys = []string{"reply", "user_visible_text"}

// Reply is the reconciled model output.
type Reply struct {
	Text     string
	Thoughts string
	Delta    types.EmotionalDelta
	Mood     *types.Mood
	Actions  []types.Action
	Summary  string
	Facts    []FactCandidate
	// Structured is false when the raw text was used as the reply.
	Structured bool
}

// FactCandidate is a durable fact proposed inline by the chat model.
type FactCandidate struct {
	Content    string
	Importance int
}

// Parse extracts the structured payload from raw, falling back to the raw text.
func Parse(raw string) Reply {
	fallback := Reply{Text: strings.TrimSpace(raw)}

	obj, ok := LocateObject(raw, replyKeys...)
	if !ok {
		return fallback
	}

	root := gjson.Parse(obj)
	var text string
	for _, key := range replyKeys {
		if v := root.Get(key); v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
			text = v.Str
			break
		}
	}
	if text == "" {
		return fallback
	}

	return Reply{
		Text:       strings.TrimSpace(text),
		Thoughts:   strings.TrimSpace(root.Get("thoughts").String()),
		Delta:      parseDelta(root),
		Mood:       parseMood(root.Get("mood")),
		Actions:    parseActions(root.Get("actions")),
		Summary:    strings.TrimSpace(root.Get("summary").String()),
		Facts:      parseFacts(root.Get("facts")),
		Structured: true,
	}
}

func parseDelta(root gjson.Result) types.EmotionalDelta {
	rd := root.Get("relationship_delta")
	switch {
	case rd.Type == gjson.Number:
		d := emotion.ClampDelta(roundInt(rd.Float()))
		if d == 0 {
			return types.EmotionalDelta{}
		}
		return types.EmotionalDelta{Affection: d, Trust: roundInt(float64(d) * 0.5)}
	case rd.IsObject():
		return deltaFields(rd)
	case !rd.Exists():
		return deltaFields(root)
	default:
		return types.EmotionalDelta{}
	}
}

func deltaFields(obj gjson.Result) types.EmotionalDelta {
	field := func(name string) int {
		v := obj.Get(name)
		if v.Type != gjson.Number {
			return 0
		}
		return emotion.ClampDelta(roundInt(v.Float()))
	}
	return types.EmotionalDelta{
		Attraction: field("attraction"),
		Trust:      field("trust"),
		Affection:  field("affection"),
		Dominance:  field("dominance"),
	}
}

func parseMood(v gjson.Result) *types.Mood {
	switch {
	case v.Type == gjson.String:
		label := shortLabel(v.Str)
		if label == "" {
			return nil
		}
		return &types.Mood{Primary: label}
	case v.IsObject():
		primary := shortLabel(v.Get("primary").String())
		if primary == "" {
			return nil
		}
		return &types.Mood{
			Primary:   primary,
			Secondary: shortLabel(v.Get("secondary").String()),
			Intensity: roundInt(v.Get("intensity").Float()),
		}
	default:
		return nil
	}
}

func parseActions(v gjson.Result) []types.Action {
	if !v.IsArray() {
		return nil
	}
	var actions []types.Action
	for _, item := range v.Array() {
		if !item.IsObject() {
			continue
		}
		kind := strings.ToUpper(strings.TrimSpace(item.Get("type").String()))
		if kind == "" {
			continue
		}
		slug := item.Get("item_slug").String()
		if slug == "" {
			slug = item.Get("item").String()
		}
		actions = append(actions, types.Action{
			Type:     types.ActionType(kind),
			ItemSlug: strings.TrimSpace(slug),
			Flag:     strings.TrimSpace(item.Get("flag").String()),
			Value:    item.Get("value").String(),
			Reason:   strings.TrimSpace(item.Get("reason").String()),
		})
	}
	return actions
}

func parseFacts(v gjson.Result) []FactCandidate {
	if !v.IsArray() {
		return nil
	}
	var facts []FactCandidate
	for _, item := range v.Array() {
		switch {
		case item.Type == gjson.String:
			facts = append(facts, FactCandidate{Content: strings.TrimSpace(item.Str)})
		case item.IsObject():
			facts = append(facts, FactCandidate{
				Content:    strings.TrimSpace(item.Get("content").String()),
				Importance: roundInt(item.Get("importance").Float()),
			})
		}
	}
	return facts
}

func shortLabel(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxMoodLabelLength {
		return s
	}
	return string([]rune(s)[:maxMoodLabelLength])
}

// roundInt rounds halves toward +Inf, so -2.5 becomes -2.
func roundInt(f float64) int {
	return int(math.Floor(f + 0.5))
}
