package memory

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestParseOperationsShapeValidation(t *testing.T) {
	raw := `[
		{"op": "add", "content": "любит собак"},
		{"type": "ADD", "content": "работает врачом", "importance": 9},
		{"op": "add", "content": "   "},
		{"op": "add", "content": "` + strings.Repeat("я", MaxFactLength+1) + `"},
		{"op": "add", "content": 5},
		{"op": "add", "content": "x", "importance": 0},
		{"op": "add", "content": "x", "importance": "high"},
		{"op": "update", "id": "f1"},
		{"op": "update", "id": "f2", "content": "новое"},
		{"op": "delete", "id": "f1"},
		{"op": "delete"},
		42
	]`
	ops := ParseOperations(gjson.Parse(raw), map[string]bool{"f1": true})

	if len(ops) != 3 {
		t.Fatalf("expected 3 operations, got %#v", ops)
	}
	if ops[0].Kind != OpAdd || ops[0].Importance != DefaultImportance {
		t.Fatalf("expected default importance, got %#v", ops[0])
	}
	if ops[1].Kind != OpAdd || ops[1].Importance != 9 {
		t.Fatalf("unexpected op: %#v", ops[1])
	}
	if ops[2].Kind != OpDelete || ops[2].ID != "f1" {
		t.Fatalf("unexpected op: %#v", ops[2])
	}
}

func TestParseOperationsNonArray(t *testing.T) {
	if ops := ParseOperations(gjson.Parse(`{"op": "add"}`), nil); ops != nil {
		t.Fatalf("expected nil, got %#v", ops)
	}
}

func TestClampImportance(t *testing.T) {
	cases := map[int]int{0: DefaultImportance, -3: 1, 4: 4, 12: 10}
	for in, want := range cases {
		if got := ClampImportance(in); got != want {
			t.Fatalf("ClampImportance(%d) = %d, want %d", in, got, want)
		}
	}
}
