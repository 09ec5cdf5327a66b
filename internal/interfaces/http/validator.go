package http

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input validation constants
const (
	MaxSystemPromptLength = 20000
	MaxContactIDLength    = 32
	MaxIDLength           = 64
)

var (
	contactIDPattern = regexp.MustCompile(`^[0-9]+$`)
	idPattern        = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidContactID checks a WhatsApp contact id (wa_id): digits only.
func ValidContactID(s string) bool {
	if s == "" || len(s) > MaxContactIDLength {
		return false
	}
	return contactIDPattern.MatchString(s)
}

// ValidID checks a path identifier such as a conversation id.
func ValidID(s string) bool {
	if s == "" || len(s) > MaxIDLength {
		return false
	}
	return idPattern.MatchString(s)
}

// SanitizeString removes null bytes and invalid UTF-8.
func SanitizeString(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	return s
}

// ValidateLength checks if string is within bounds (in runes)
func ValidateLength(s string, min, max int) bool {
	l := utf8.RuneCountInString(s)
	return l >= min && l <= max
}
