package prompt

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/easeaico/her-engine/internal/emotion"
	"github.com/easeaico/her-engine/internal/history"
	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/types"
)

// ErrNoPersonaVersion means the character has no card to render.
var ErrNoPersonaVersion = errors.New("character has no persona version")

const (
	// FixedPairs is the number of history slots in the fixed-window variant.
	FixedPairs = 4
	// EmptyUserPlaceholder fills user slots that precede the conversation.
	EmptyUserPlaceholder = "(нет сообщения пользователя)"
	storyNodeLimit       = 3
	defaultUserName      = "User"
)

// Input contains all inputs for prompt assembly.
type Input struct {
	Character *types.Character
	User      *types.User
	Emotion   *types.EmotionalState
	Story     *types.Story
	Effects   []types.ActiveEffect
	Facts     []types.MemoryFact
	Summary   string
	// History is the windowed turn list, chronological.
	History     []types.Turn
	UserMessage string
	// Regenerate means History already ends with the pending user turn.
	Regenerate bool
}

// Assembler builds the ordered message list sent to the model.
type Assembler struct {
	driver string
}

// NewAssembler creates an Assembler. An empty driver uses DefaultDriverPrompt.
func NewAssembler(driver string) *Assembler {
	if strings.TrimSpace(driver) == "" {
		driver = DefaultDriverPrompt
	}
	return &Assembler{driver: driver}
}

// Instruction renders the single instruction entry: driver, character card and context lines.
func (a *Assembler) Instruction(in Input) (string, error) {
	version := in.Character.ActiveVersion()
	if version == nil {
		return "", ErrNoPersonaVersion
	}
	userName := userName(in.User)

	card := struct {
		Name    string
		Version types.CharacterVersion
	}{
		Name: in.Character.Name,
		Version: types.CharacterVersion{
			Voice:        collapse(NormalizePromptText(version.Voice, in.Character.Name, userName)),
			ContentRules: collapse(NormalizePromptText(version.ContentRules, in.Character.Name, userName)),
			Persona:      collapse(NormalizePromptText(version.Persona, in.Character.Name, userName)),
			SystemPrompt: collapse(NormalizePromptText(version.SystemPrompt, in.Character.Name, userName)),
			StyleRules:   collapse(NormalizePromptText(version.StyleRules, in.Character.Name, userName)),
		},
	}
	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, card); err != nil {
		return "", fmt.Errorf("failed to build character card: %w", err)
	}

	blocks := []string{a.driver, buf.String()}
	blocks = append(blocks, contextLines(in)...)
	return strings.Join(blocks, "\n\n"), nil
}

// Assemble returns instruction, windowed history and the new user message.
func (a *Assembler) Assemble(in Input) ([]llm.Message, error) {
	instruction, err := a.Instruction(in)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: instruction})
	for _, turn := range in.History {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		messages = append(messages, llm.Message{Role: turnRole(turn.Role), Content: turn.Text})
	}
	if !in.Regenerate {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.UserMessage})
	}
	return messages, nil
}

// AssembleFixed is the constant-shape variant: history is rendered as exactly
// pairs user/assistant slots, padded on the left with placeholders.
func (a *Assembler) AssembleFixed(in Input, pairs int) ([]llm.Message, error) {
	if pairs <= 0 {
		pairs = FixedPairs
	}
	instruction, err := a.Instruction(in)
	if err != nil {
		return nil, err
	}

	turns := in.History
	pending := in.UserMessage
	if in.Regenerate && len(turns) > 0 && turns[len(turns)-1].Role == types.RoleUser {
		pending = turns[len(turns)-1].Text
		turns = turns[:len(turns)-1]
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: instruction}}
	for _, pair := range history.Pairs(turns, pairs) {
		user := pair.User
		if strings.TrimSpace(user) == "" {
			user = EmptyUserPlaceholder
		}
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})
		if pair.Assistant != "" {
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: pair.Assistant})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: pending})
	return messages, nil
}

func contextLines(in Input) []string {
	var lines []string
	if in.Emotion != nil {
		lines = append(lines, emotion.Context(*in.Emotion))
	}
	if info := userInfo(in.User); info != "" {
		lines = append(lines, info)
	}
	if story := storyContext(in.Story); story != "" {
		lines = append(lines, story)
	}
	if hints := effectHints(in.Effects); hints != "" {
		lines = append(lines, hints)
	}
	if len(in.Facts) > 0 {
		facts := make([]string, 0, len(in.Facts))
		for _, fact := range in.Facts {
			facts = append(facts, "- "+fact.Content)
		}
		lines = append(lines, "Факты о пользователе:\n"+strings.Join(facts, "\n"))
	}
	if summary := strings.TrimSpace(in.Summary); summary != "" {
		lines = append(lines, "Резюме беседы:\n"+summary)
	}
	return lines
}

var genderLabels = map[string]string{
	"male":   "мужчина",
	"female": "женщина",
	"other":  "не указано",
}

func userInfo(u *types.User) string {
	if u == nil {
		return ""
	}
	var parts []string
	if u.Name != "" {
		parts = append(parts, "Имя пользователя: "+u.Name)
	}
	if u.Gender != "" {
		label, ok := genderLabels[u.Gender]
		if !ok {
			label = u.Gender
		}
		parts = append(parts, "Пол: "+label)
	}
	if len(parts) == 0 {
		return ""
	}
	return "О пользователе:\n" + strings.Join(parts, "\n")
}

func storyContext(story *types.Story) string {
	if story == nil || story.Title == "" {
		return ""
	}
	line := "История: " + story.Title + "."
	var nodes []string
	for _, node := range story.Nodes {
		if len(nodes) == storyNodeLimit {
			break
		}
		if node = strings.TrimSpace(node); node != "" {
			nodes = append(nodes, node)
		}
	}
	if len(nodes) > 0 {
		line += "\nКонтекст: " + strings.Join(nodes, " / ")
	}
	return line
}

func effectHints(effects []types.ActiveEffect) string {
	var hints []string
	for _, effect := range effects {
		if hint := strings.TrimSpace(effect.Payload.Hint); hint != "" {
			hints = append(hints, "- "+hint)
		}
	}
	if len(hints) == 0 {
		return ""
	}
	return "Активные эффекты:\n" + strings.Join(hints, "\n")
}

func userName(u *types.User) string {
	if u == nil || u.Name == "" {
		return defaultUserName
	}
	return u.Name
}

func turnRole(role types.Role) llm.Role {
	if role == types.RoleAssistant {
		return llm.RoleAssistant
	}
	return llm.RoleUser
}
