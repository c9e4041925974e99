// Package password provides password and OTP hashing for Deep Guard.
//
// It wraps bcrypt behind a small configurable surface:
// - Configurable cost (via environment variables)
// - Password policy validation (length bounds)
// - Verification that treats stored hashes as untrusted input
//
// bcrypt hashes embed their own salt and cost, so stored hashes remain
// verifiable after cost changes; new hashes pick up the configured cost.
package password
