package password

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// Policy controls password validation boundaries.
type Policy struct {
	MinLength int
	MaxLength int
}

// Config is the single configuration surface for this package.
type Config struct {
	Cost   int
	Policy Policy
}

// DefaultConfig returns a baseline suitable for interactive logins.
// Values can be overridden via env.
func DefaultConfig() Config {
	return Config{
		Cost: bcrypt.DefaultCost,
		Policy: Policy{
			MinLength: 8,
			MaxLength: 72, // bcrypt truncates beyond 72 bytes; refuse instead
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - DEEPGUARD_PASSWORD_MIN_LEN
// - DEEPGUARD_PASSWORD_MAX_LEN
// - DEEPGUARD_BCRYPT_COST
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("DEEPGUARD_PASSWORD_MIN_LEN"); ok {
		n, err := atoiBounded(v, 1, 72)
		if err != nil {
			return Config{}, fmt.Errorf("DEEPGUARD_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := os.LookupEnv("DEEPGUARD_PASSWORD_MAX_LEN"); ok {
		n, err := atoiBounded(v, 1, 72)
		if err != nil {
			return Config{}, fmt.Errorf("DEEPGUARD_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := os.LookupEnv("DEEPGUARD_BCRYPT_COST"); ok {
		n, err := atoiBounded(v, bcrypt.MinCost, bcrypt.MaxCost)
		if err != nil {
			return Config{}, fmt.Errorf("DEEPGUARD_BCRYPT_COST: %w", err)
		}
		cfg.Cost = n
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy: min length %d exceeds max %d",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}

	return cfg, nil
}

// Validate checks password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Count characters (runes), not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength || len(password) > 72 {
		return ErrPasswordTooLong
	}
	return nil
}

// Hash validates the password against policy and returns a bcrypt hash.
func (c Config) Hash(password string) (string, error) {
	if err := c.Validate(password); err != nil {
		return "", err
	}

	cost := c.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify compares a plaintext candidate against a stored bcrypt hash.
// Returns (false, nil) on mismatch, and ErrInvalidHash when the stored
// value is not a bcrypt hash at all.
func (c Config) Verify(encoded, candidate string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(candidate))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	case errors.Is(err, bcrypt.ErrHashTooShort):
		return false, ErrInvalidHash
	default:
		var vErr bcrypt.InvalidHashPrefixError
		if errors.As(err, &vErr) {
			return false, ErrInvalidHash
		}
		return false, err
	}
}

// HashCode hashes a short one-time code (OTP). Codes bypass the password
// length policy but use the same cost surface.
func (c Config) HashCode(code string) (string, error) {
	if code == "" {
		return "", ErrPasswordTooShort
	}

	cost := c.Cost
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	b, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func atoiBounded(v string, min, max int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < min || n > max {
		return 0, fmt.Errorf("value %d out of range [%d..%d]", n, min, max)
	}
	return n, nil
}
