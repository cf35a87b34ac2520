package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const MaxMessageRunes = 2000

var (
	// assistant thread ids, e.g. thread_abc123
	reSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// Message trims a chat message and enforces a non-empty, bounded length.
func Message(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !utf8.ValidString(s) {
		return "", false
	}
	return s, utf8.RuneCountInString(s) <= MaxMessageRunes
}

// SessionID validates an opaque session/thread identifier.
func SessionID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, s != "" && reSessionID.MatchString(s)
}
