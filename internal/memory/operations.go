package memory

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/tidwall/gjson"
)

// OpKind is the verb of a memory operation.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

const (
	// MaxFactLength bounds fact content in code points.
	MaxFactLength     = 200
	DefaultImportance = 5
)

// Operation is one validated change to the durable facts.
type Operation struct {
	Kind       OpKind
	ID         string
	Content    string
	Importance int
}

var opSchemas = map[OpKind]*jsonschema.Resolved{
	OpAdd: mustResolve(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"content"},
		Properties: map[string]*jsonschema.Schema{
			"content":    contentSchema(),
			"importance": {Type: "integer", Minimum: ptr(1.0), Maximum: ptr(10.0)},
		},
	}),
	OpUpdate: mustResolve(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"id", "content"},
		Properties: map[string]*jsonschema.Schema{
			"id":         {Type: "string", MinLength: ptr(1)},
			"content":    contentSchema(),
			"importance": {Type: "integer", Minimum: ptr(1.0), Maximum: ptr(10.0)},
		},
	}),
	OpDelete: mustResolve(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"id"},
		Properties: map[string]*jsonschema.Schema{
			"id": {Type: "string", MinLength: ptr(1)},
		},
	}),
}

func contentSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", MinLength: ptr(1), MaxLength: ptr(MaxFactLength)}
}

func mustResolve(s *jsonschema.Schema) *jsonschema.Resolved {
	r, err := s.Resolve(nil)
	if err != nil {
		panic(err)
	}
	return r
}

func ptr[T any](v T) *T {
	return &v
}

// ParseOperations validates a memory_operations array. Entries with a bad shape,
// or that reference a fact id not in known, are dropped.
func ParseOperations(ops gjson.Result, known map[string]bool) []Operation {
	if !ops.IsArray() {
		return nil
	}

	var out []Operation
	for i, item := range ops.Array() {
		op, ok := parseOperation(item, known)
		if !ok {
			slog.Debug("dropped invalid memory operation", "index", i, "raw", item.Raw)
			continue
		}
		out = append(out, op)
	}
	return out
}

func parseOperation(item gjson.Result, known map[string]bool) (Operation, bool) {
	if !item.IsObject() {
		return Operation{}, false
	}
	kindField := item.Get("op")
	if !kindField.Exists() {
		kindField = item.Get("type")
	}
	kind := OpKind(strings.ToLower(strings.TrimSpace(kindField.String())))
	schema, ok := opSchemas[kind]
	if !ok {
		return Operation{}, false
	}
	if err := schema.Validate(item.Value()); err != nil {
		return Operation{}, false
	}

	op := Operation{
		Kind:       kind,
		ID:         strings.TrimSpace(item.Get("id").String()),
		Content:    strings.TrimSpace(item.Get("content").String()),
		Importance: int(item.Get("importance").Int()),
	}
	if kind != OpDelete && (op.Content == "" || utf8.RuneCountInString(op.Content) > MaxFactLength) {
		return Operation{}, false
	}
	if kind != OpAdd && !known[op.ID] {
		return Operation{}, false
	}
	if op.Importance == 0 && kind == OpAdd {
		op.Importance = DefaultImportance
	}
	return op, true
}

// ClampImportance bounds importance to 1-10, defaulting zero to DefaultImportance.
func ClampImportance(v int) int {
	switch {
	case v == 0:
		return DefaultImportance
	case v < 1:
		return 1
	case v > 10:
		return 10
	default:
		return v
	}
}
