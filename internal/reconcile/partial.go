package reconcile

import (
	"encoding/json"
	"regexp"
)

var (
	partialReply   = regexp.MustCompile(`(?s)"(?:reply|user_visible_text)"\s*:\s*"((?:[^"\\]|\\.)*)`)
	danglingEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{0,3}$`)
)

// ExtractPartial pulls the reply value out of a possibly unfinished JSON buffer.
func ExtractPartial(buf string) (string, bool) {
	m := partialReply.FindStringSubmatch(buf)
	if m == nil {
		return "", false
	}
	raw := danglingEscape.ReplaceAllString(m[1], "")
	var value string
	if err := json.Unmarshal([]byte(`"`+raw+`"`), &value); err != nil {
		return raw, true
	}
	return value, true
}
