package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/types"
)

func testCharacter() *types.Character {
	return &types.Character{
		ID:   "alisa",
		Name: "Алиса",
		Versions: []types.CharacterVersion{
			{ID: "v1", Persona: "старая версия"},
			{ID: "v2", Active: true, Voice: `"1st person"`, Persona: "Студентка,\n  любит {{user}}.", SystemPrompt: "Ты {{char}}.", StyleRules: `"коротко"`},
		},
	}
}

func TestInstructionContextOrder(t *testing.T) {
	state := types.EmotionalState{Trust: 30, Affection: 20, Mood: types.Mood{Primary: "happy", Intensity: 7}}
	in := Input{
		Character: testCharacter(),
		User:      &types.User{Name: "Миша", Gender: "male"},
		Emotion:   &state,
		Story:     &types.Story{Title: "Запертая дверь", Nodes: []string{"коридор", "дверь", "ключ", "подвал"}},
		Effects:   []types.ActiveEffect{{Payload: types.EffectPayload{Hint: "Алиса помнит больше"}}},
		Facts:     []types.MemoryFact{{ID: "f1", Content: "любит кофе"}},
		Summary:   "Они познакомились в кафе.",
	}

	text, err := NewAssembler("").Instruction(in)
	if err != nil {
		t.Fatalf("Instruction failed: %v", err)
	}

	order := []string{
		"ВАЖНО",
		`Name("Алиса")`,
		`Persona("Студентка, любит Миша.")`,
		`System("Ты Алиса.")`,
		"Отношения:",
		"Имя пользователя: Миша",
		"Пол: мужчина",
		"История: Запертая дверь.",
		"Контекст: коридор / дверь / ключ",
		"Алиса помнит больше",
		"- любит кофе",
		"Резюме беседы:\nОни познакомились в кафе.",
	}
	last := -1
	for _, want := range order {
		idx := strings.Index(text, want)
		if idx < 0 {
			t.Fatalf("expected %q in instruction:\n%s", want, text)
		}
		if idx < last {
			t.Fatalf("expected %q after previous block:\n%s", want, text)
		}
		last = idx
	}
	if strings.Contains(text, "подвал") || strings.Contains(text, "f1") || strings.Contains(text, "старая версия") {
		t.Fatalf("unexpected content in instruction:\n%s", text)
	}
}

func TestInstructionRequiresVersion(t *testing.T) {
	_, err := NewAssembler("").Instruction(Input{Character: &types.Character{Name: "Пусто"}})
	if !errors.Is(err, ErrNoPersonaVersion) {
		t.Fatalf("expected ErrNoPersonaVersion, got %v", err)
	}
}

func TestAssembleAppendsUserMessage(t *testing.T) {
	in := Input{
		Character: testCharacter(),
		History: []types.Turn{
			{Role: types.RoleUser, Text: "Привет"},
			{Role: types.RoleAssistant, Text: "Привет!"},
		},
		UserMessage: "Проверим дверь?",
	}
	messages, err := NewAssembler("custom driver").Assemble(in)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != llm.RoleSystem || !strings.HasPrefix(messages[0].Content, "custom driver") {
		t.Fatalf("unexpected instruction: %#v", messages[0])
	}
	if messages[2].Role != llm.RoleAssistant || messages[3].Content != "Проверим дверь?" {
		t.Fatalf("unexpected messages: %#v", messages)
	}
}

func TestAssembleRegenerateDoesNotDuplicate(t *testing.T) {
	in := Input{
		Character: testCharacter(),
		History: []types.Turn{
			{Role: types.RoleUser, Text: "Привет"},
			{Role: types.RoleAssistant, Text: "Привет!"},
			{Role: types.RoleUser, Text: "Проверим дверь?"},
		},
		UserMessage: "Проверим дверь?",
		Regenerate:  true,
	}
	messages, err := NewAssembler("").Assemble(in)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	count := 0
	for _, m := range messages {
		if m.Content == "Проверим дверь?" {
			count++
		}
	}
	if count != 1 || messages[len(messages)-1].Content != "Проверим дверь?" {
		t.Fatalf("expected pending turn exactly once at the end, got %#v", messages)
	}
}

func TestAssembleFixedPadsHistory(t *testing.T) {
	in := Input{
		Character: testCharacter(),
		History: []types.Turn{
			{Role: types.RoleUser, Text: "Привет"},
			{Role: types.RoleAssistant, Text: "Привет!"},
		},
		UserMessage: "Как дела?",
	}
	messages, err := NewAssembler("").AssembleFixed(in, FixedPairs)
	if err != nil {
		t.Fatalf("AssembleFixed failed: %v", err)
	}
	// system + 3 placeholders + user/assistant pair + new message
	if len(messages) != 7 {
		t.Fatalf("expected 7 messages, got %d: %#v", len(messages), messages)
	}
	for i := 1; i <= 3; i++ {
		if messages[i].Role != llm.RoleUser || messages[i].Content != EmptyUserPlaceholder {
			t.Fatalf("expected placeholder at %d, got %#v", i, messages[i])
		}
	}
	if messages[4].Content != "Привет" || messages[5].Content != "Привет!" || messages[6].Content != "Как дела?" {
		t.Fatalf("unexpected tail: %#v", messages[4:])
	}
}

func TestNormalizePromptText(t *testing.T) {
	got := NormalizePromptText(`{{char}} и {{user}}\nвместе`, "Алиса", "Миша")
	if got != "Алиса и Миша\nвместе" {
		t.Fatalf("unexpected normalized text: %q", got)
	}
}
