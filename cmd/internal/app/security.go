package app

import (
	"errors"

	"deepguard/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy.
//
// Refresh tokens are anchored to session rows by hash; with
// DEEPGUARD_REQUIRE_TOKEN_HMAC=true that hash must be keyed, so a leaked
// database cannot be used to forge lookups. Fail fast rather than fall
// back to the unkeyed digest.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// The key is used as raw bytes; 32 is the floor for HMAC-SHA256.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: DEEPGUARD_REQUIRE_TOKEN_HMAC=true but DEEPGUARD_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: DEEPGUARD_REQUIRE_TOKEN_HMAC=true but DEEPGUARD_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}
	return nil
}
