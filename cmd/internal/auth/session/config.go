package session

import (
	"os"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls token TTLs, clock skew tolerance, and the two HS256 signing
// secrets. The struct is intentionally explicit and environment-driven so
// that production deployments can tune security parameters without code
// changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of issued tokens.
	Issuer string

	// AccessTokenTTL is the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the lifetime of refresh tokens and of the session
	// row anchoring them. Rotation extends the session by this much.
	RefreshTokenTTL time.Duration

	// ClockSkew is the allowed time skew during token validation.
	ClockSkew time.Duration

	// AccessSecret signs access tokens. Must differ from RefreshSecret so a
	// refresh token can never pass access-token verification.
	AccessSecret []byte

	// RefreshSecret signs refresh tokens.
	RefreshSecret []byte
}

// DefaultConfig returns defaults matching the documented token lifetimes.
// Secrets are not defaulted; they must come from the environment.
func DefaultConfig() Config {
	return Config{
		Issuer:          "deepguard",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		ClockSkew:       30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - DEEPGUARD_JWT_ACCESS_SECRET
//   - DEEPGUARD_JWT_REFRESH_SECRET (must differ from the access secret)
//
// Optional (durations must be valid Go duration strings):
//   - DEEPGUARD_AUTH_ISSUER
//   - DEEPGUARD_AUTH_ACCESS_TTL
//   - DEEPGUARD_AUTH_REFRESH_TTL
//   - DEEPGUARD_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("DEEPGUARD_AUTH_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("DEEPGUARD_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("DEEPGUARD_AUTH_REFRESH_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.RefreshTokenTTL = d
	}

	if v := os.Getenv("DEEPGUARD_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.AccessSecret = []byte(os.Getenv("DEEPGUARD_JWT_ACCESS_SECRET"))
	cfg.RefreshSecret = []byte(os.Getenv("DEEPGUARD_JWT_REFRESH_SECRET"))

	return cfg, cfg.validate()
}

const minSecretBytes = 32

func (c Config) validate() error {
	if len(c.AccessSecret) < minSecretBytes || len(c.RefreshSecret) < minSecretBytes {
		return ErrConfig
	}
	if string(c.AccessSecret) == string(c.RefreshSecret) {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return ErrConfig
	}
	// An access token outliving the refresh credential makes no sense.
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		return ErrConfig
	}
	return nil
}
