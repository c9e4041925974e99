package identity

import "strings"

// NormalizeEmail lowercases and trims an email for storage and lookup.
// All store operations expect normalized emails; callers at the API edge
// normalize once and pass the result down.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailLocalPart returns the part of a normalized email before the '@'.
// Used as the default display name when the caller did not supply one.
func EmailLocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}
