package reconcile

import (
	"regexp"
	"strings"
)

// Sanitize removes a leading "Name:" speaker prefix and cuts the text where the
// model starts writing the user's next line.
func Sanitize(text, characterName, userName string) string {
	out := strings.TrimSpace(text)

	if name := strings.TrimSpace(characterName); name != "" {
		prefix := regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(name) + `\s*[:\-—]+\s*`)
		out = prefix.ReplaceAllString(out, "")
	}

	markers := []string{"User:", "Пользователь:"}
	if user := strings.TrimSpace(userName); user != "" {
		markers = append(markers, user+":", "@"+user+":")
	}
	quoted := make([]string, 0, len(markers))
	for _, m := range markers {
		quoted = append(quoted, regexp.QuoteMeta(m))
	}
	leak := regexp.MustCompile(`(?i)` + strings.Join(quoted, "|"))
	if loc := leak.FindStringIndex(out); loc != nil && loc[0] > 0 {
		out = out[:loc[0]]
	}

	return strings.TrimSpace(out)
}

// Reconcile parses raw output and sanitizes the visible text.
func Reconcile(raw, characterName, userName string) Reply {
	reply := Parse(raw)
	if cleaned := Sanitize(reply.Text, characterName, userName); cleaned != "" {
		reply.Text = cleaned
	}
	return reply
}
