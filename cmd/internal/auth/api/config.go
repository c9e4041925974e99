package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Cookie names are part of the client contract and not configurable.
const (
	accessCookieName  = "accessToken"
	refreshCookieName = "refreshToken"
)

// Config controls auth API transport behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	CookieSecure bool
	CookieDomain string
	CookiePath   string

	// UpstreamTimeout bounds every store, email, and provider call made
	// on behalf of a request.
	UpstreamTimeout time.Duration
}

// LoadConfigFromEnv loads auth API config from environment variables with
// safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:      envBool("DEEPGUARD_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:    envInt64("DEEPGUARD_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CookieSecure:    envBool("DEEPGUARD_COOKIE_SECURE", true),
		CookieDomain:    strings.TrimSpace(os.Getenv("DEEPGUARD_COOKIE_DOMAIN")),
		CookiePath:      "/",
		UpstreamTimeout: envDuration("DEEPGUARD_UPSTREAM_TIMEOUT", 5*time.Second),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 5 * time.Second
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
