package memory

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/easeaico/her-engine/internal/llm"
	"github.com/easeaico/her-engine/internal/reconcile"
	"github.com/easeaico/her-engine/internal/types"
)

const (
	DefaultWindowSize       = 7
	DefaultMaxSummaryLength = 1024
)

// summaryInstruction 要求模型仅返回符合结构的 JSON。
const summaryInstruction = `Ты ведёшь память диалога между пользователем и персонажем.
Тебе дают текущее резюме, список долговременных фактов о пользователе с идентификаторами и новые реплики.

Задача:
1. Перепиши резюме так, чтобы оно включало новые реплики: ключевые события, решения, обещания, смену эмоций. Пиши от третьего лица, в хронологическом порядке, кратко.
2. Предложи операции над фактами о пользователе: add для нового устойчивого факта (content, importance 1-10), update для уточнения существующего факта (id, content), delete для опровергнутого факта (id).

Правила:
- Факты только о пользователе и только явно сказанные им.
- Не дублируй существующие факты.
- Ответ строго JSON без текста вокруг:
{"summary": "...", "memory_operations": [{"op": "add", "content": "...", "importance": 5}]}`

const summaryInputText = `{{- if .Summary}}Текущее резюме:
{{.Summary}}

{{end}}
{{- if .Facts}}Факты о пользователе:
{{- range .Facts}}
[{{.ID}}] {{.Content}} (важность {{.Importance}})
{{- end}}

{{end -}}
Новые реплики:
{{- range .Turns}}
{{if eq (print .Role) "user"}}Пользователь{{else}}{{$.CharacterName}}{{end}}: {{.Text}}
{{- end}}`

// FoldRequest is the material for one summarization pass.
type FoldRequest struct {
	CharacterName string
	Summary       string
	Turns         []types.Turn
	Facts         []types.MemoryFact
}

// FoldResult is the outcome of a pass. Changed is false when the summary must stay as it was.
type FoldResult struct {
	Summary    string
	Operations []Operation
	Changed    bool
}

// Summarizer folds turns into the rolling summary through the model.
type Summarizer struct {
	llm        llm.Completer
	params     llm.SamplingParams
	windowSize int
	maxLength  int
}

// NewSummarizer returns a Summarizer. Non-positive sizes fall back to defaults.
func NewSummarizer(completer llm.Completer, params llm.SamplingParams, windowSize, maxLength int) *Summarizer {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxSummaryLength
	}
	params.ResponseSchema = summaryOutputSchema()
	return &Summarizer{
		llm:        completer,
		params:     params,
		windowSize: windowSize,
		maxLength:  maxLength,
	}
}

// WindowSize is the number of turns folded by one interval pass.
func (s *Summarizer) WindowSize() int {
	return s.windowSize
}

// Due reports whether an interval pass should run for a dialog with total turns.
func (s *Summarizer) Due(total, watermark int) bool {
	return total >= watermark+s.windowSize
}

// IntervalSlice returns turns[watermark : watermark+window] when a pass is due.
func (s *Summarizer) IntervalSlice(turns []types.Turn, watermark int) ([]types.Turn, bool) {
	if watermark < 0 || !s.Due(len(turns), watermark) {
		return nil, false
	}
	return turns[watermark : watermark+s.windowSize], true
}

// Fold runs one best-effort pass. It never fails: errors leave the summary unchanged.
func (s *Summarizer) Fold(ctx context.Context, req FoldRequest) FoldResult {
	if s == nil || s.llm == nil || len(req.Turns) == 0 {
		return FoldResult{Summary: req.Summary}
	}

	input, err := renderSummaryInput(req)
	if err != nil {
		slog.Error("failed to render summary input", "error", err.Error())
		return FoldResult{Summary: req.Summary}
	}

	out, err := s.llm.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: summaryInstruction},
		{Role: llm.RoleUser, Content: input},
	}, s.params, nil)
	if err != nil {
		slog.Warn("summarization failed", "error", err.Error(), "turns", len(req.Turns))
		return FoldResult{Summary: req.Summary}
	}

	obj, ok := reconcile.LocateObject(out.Text, "summary", "memory_operations")
	if !ok {
		slog.Warn("summarization returned no parseable json", "raw", truncateForLog(out.Text))
		return FoldResult{Summary: req.Summary}
	}
	root := gjson.Parse(obj)

	known := make(map[string]bool, len(req.Facts))
	for _, fact := range req.Facts {
		known[fact.ID] = true
	}
	result := FoldResult{
		Summary:    req.Summary,
		Operations: ParseOperations(root.Get("memory_operations"), known),
	}
	if summary := strings.TrimSpace(root.Get("summary").String()); summary != "" {
		result.Summary = CapSummary(summary, s.maxLength)
		result.Changed = true
	}
	return result
}

// CapSummary keeps the last max runes of s.
func CapSummary(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[len(runes)-max:]))
}

var summaryInputTemplate = template.Must(template.New("summary").Parse(summaryInputText))

func renderSummaryInput(req FoldRequest) (string, error) {
	if req.CharacterName == "" {
		req.CharacterName = "Персонаж"
	}
	var buf bytes.Buffer
	if err := summaryInputTemplate.Execute(&buf, req); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func summaryOutputSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"summary": {
				Type: genai.TypeString,
			},
			"memory_operations": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"op":         {Type: genai.TypeString, Enum: []string{string(OpAdd), string(OpUpdate), string(OpDelete)}},
						"id":         {Type: genai.TypeString},
						"content":    {Type: genai.TypeString},
						"importance": {Type: genai.TypeInteger},
					},
					Required: []string{"op"},
				},
			},
		},
		Required: []string{"summary"},
	}
}

func truncateForLog(s string) string {
	const limit = 200
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit]) + "..."
}
