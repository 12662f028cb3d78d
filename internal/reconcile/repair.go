// Package reconcile turns raw model output into a visible reply, a relationship delta and action directives.
package reconcile

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// maxRepairRetries bounds how many times a candidate is shortened at a closing brace.
const maxRepairRetries = 3

var (
	plusNumber        = regexp.MustCompile(`([:\[,]\s*)\+(\d)`)
	missingLineComma  = regexp.MustCompile(`("|\d|true|false|null|\])([ \t]*\r?\n\s*")`)
	missingBraceComma = regexp.MustCompile(`\}(\s*")`)
	trailingComma     = regexp.MustCompile(`,(\s*[}\]])`)
)

// Repair applies the near-JSON fixes in a fixed order: leading plus signs on
// numbers, missing commas between lines, missing commas after a closing brace,
// and trailing commas.
func Repair(s string) string {
	s = plusNumber.ReplaceAllString(s, "${1}${2}")
	s = missingLineComma.ReplaceAllString(s, "${1},${2}")
	s = missingBraceComma.ReplaceAllString(s, "},${1}")
	s = trailingComma.ReplaceAllString(s, "${1}")
	return s
}

// LocateObject finds the outermost {...} that mentions one of keys and returns it once it is
// valid JSON. Repair only runs on candidates that fail a strict check, so valid objects come
// back byte for byte.
func LocateObject(raw string, keys ...string) (string, bool) {
	keyIdx := -1
	for _, key := range keys {
		if i := strings.Index(raw, `"`+key+`"`); i >= 0 && (keyIdx < 0 || i < keyIdx) {
			keyIdx = i
		}
	}
	if keyIdx < 0 {
		return "", false
	}
	start := strings.Index(raw[:keyIdx], "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= keyIdx {
		return "", false
	}

	candidate := raw[start : end+1]
	for attempt := 0; attempt <= maxRepairRetries; attempt++ {
		if gjson.Valid(candidate) {
			return candidate, true
		}
		if repaired := Repair(candidate); gjson.Valid(repaired) {
			return repaired, true
		}
		cut := strings.LastIndex(candidate[:len(candidate)-1], "}")
		if cut <= 0 {
			break
		}
		candidate = candidate[:cut+1]
	}
	return "", false
}
