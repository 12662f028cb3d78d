package prompt

import (
	"strings"
	"text/template"
)

// DefaultDriverPrompt 是默认的驱动指令，要求模型只输出 JSON。
const DefaultDriverPrompt = `ВАЖНО: Твой ответ должен быть ТОЛЬКО валидным JSON объектом. Никаких рассуждений и пояснений вне JSON.

Ты — ролевой персонаж. Отвечай на сообщение пользователя от первого лица персонажа.

СТРОГИЙ ФОРМАТ ОТВЕТА:
{
  "reply": "__действие персонажа__ текст ответа",
  "thoughts": "скрытые мысли персонажа",
  "relationship_delta": {"attraction": 0, "trust": 0, "affection": 0, "dominance": 0},
  "mood": {"primary": "neutral", "intensity": 5},
  "actions": [],
  "facts": []
}

ПРАВИЛА:
- reply: ответ персонажа. Сначала действие в __двойных подчёркиваниях__, затем текст.
- relationship_delta: изменения от -10 до +10 по каждому полю.
- actions: OFFER_ITEM (item_slug, reason), CONSUME_ITEM (item_slug), SET_FLAG (flag, value). Пустой массив, если нечего добавить.
- facts: новые факты о пользователе [{"content": "факт", "importance": 1-10}]. Пустой массив, если нет.
- Пиши по-русски.
- НЕ ВЫВОДИ НИЧЕГО КРОМЕ JSON.`

const cardTemplateText = `CharacterCard[
Name("{{.Name}}")
{{- with .Version.Voice}}
Voice({{.}})
{{- end}}
{{- with .Version.ContentRules}}
Content({{.}})
{{- end}}
{{- with .Version.Persona}}
Persona("{{.}}")
{{- end}}
{{- with .Version.SystemPrompt}}
System("{{.}}")
{{- end}}
{{- with .Version.StyleRules}}
Style({{.}})
{{- end}}
]`

var cardTemplate = template.Must(template.New("card").Parse(cardTemplateText))

// NormalizePromptText resolves persona placeholders and unescapes literal newlines.
func NormalizePromptText(text string, charName, userName string) string {
	text = strings.ReplaceAll(text, "{{char}}", charName)
	text = strings.ReplaceAll(text, "{{user}}", userName)
	text = strings.ReplaceAll(text, "\\r\\n", "\n")
	text = strings.ReplaceAll(text, "\\n", "\n")
	text = strings.ReplaceAll(text, "\\\"", "\"")
	return text
}

// collapse folds whitespace runs so a persona field stays on one card line.
func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
