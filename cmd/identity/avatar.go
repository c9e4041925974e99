package identity

import "net/url"

const avatarBaseURL = "https://api.dicebear.com/7.x/avataaars/svg"

// DefaultAvatarURL returns a deterministic generated avatar for an email.
// Used when a user signs up without a profile picture.
func DefaultAvatarURL(email string) string {
	return avatarBaseURL + "?seed=" + url.QueryEscape(NormalizeEmail(email))
}
