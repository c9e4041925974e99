package identity

import (
	"deepguard/cmd/security/password"
)

// Hasher owns credential hashing for users and one-time codes.
// It wraps the bcrypt configuration so stores and services share one policy.
type Hasher struct {
	cfg password.Config
}

// NewHasher builds a Hasher from the environment, falling back to defaults.
func NewHasher() (Hasher, error) {
	cfg, err := password.FromEnv()
	if err != nil {
		return Hasher{}, err
	}
	return Hasher{cfg: cfg}, nil
}

// NewHasherWithConfig builds a Hasher with an explicit configuration.
// Tests use this with a low bcrypt cost.
func NewHasherWithConfig(cfg password.Config) Hasher { return Hasher{cfg: cfg} }

// HashPassword validates the password against policy and hashes it.
func (h Hasher) HashPassword(plain string) (string, error) {
	if err := h.cfg.Validate(plain); err != nil {
		return "", OpError{Op: "identity.HashPassword", Kind: ErrInvalidInput, Msg: err.Error()}
	}
	return h.cfg.Hash(plain)
}

// VerifyPassword reports whether candidate matches the stored hash.
// A mismatch is (false, nil); errors indicate a malformed stored hash.
func (h Hasher) VerifyPassword(encoded, candidate string) (bool, error) {
	return h.cfg.Verify(encoded, candidate)
}

// HashOTP hashes a one-time code. Codes bypass the password length policy.
func (h Hasher) HashOTP(code string) (string, error) {
	return h.cfg.HashCode(code)
}

// VerifyOTP reports whether candidate matches the stored code hash.
func (h Hasher) VerifyOTP(encoded, candidate string) (bool, error) {
	return h.cfg.Verify(encoded, candidate)
}
