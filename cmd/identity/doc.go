// Package identity implements Deep Guard's user identity foundation.
//
// It contains the canonical User model (credentials, token version,
// password-reset challenge state), normalization rules, password hashing,
// and the Postgres persistence boundary used by the auth layers.
//
// This package is intentionally dependency-light and security-first.
package identity
