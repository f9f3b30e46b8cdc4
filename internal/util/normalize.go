package util

import (
	"html"
	"net/mail"
	"strings"
)

// NormalizeEmail lowercases and trims an email address. Account identity
// keys are always the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether the address parses as a bare RFC 5322 address.
func ValidEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}

// SanitizeInput trims and escapes HTML/script-like characters.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}
