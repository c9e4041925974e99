package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// Background maintenance cadence.
	SessionPurgeInterval time.Duration
	OTPSweepInterval     time.Duration

	// If true, /readyz returns 503 whenever the database cannot be reached.
	ReadinessRequireDB bool

	// Security policy:
	// If true, DEEPGUARD_TOKEN_HMAC_KEY MUST be set (>= 32 bytes) so refresh
	// tokens are anchored with HMAC rather than plain SHA-256.
	RequireTokenHMAC bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("DEEPGUARD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("DEEPGUARD_LOG_LEVEL", "info"),
		LogFormat: EnvString("DEEPGUARD_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("DEEPGUARD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("DEEPGUARD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("DEEPGUARD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("DEEPGUARD_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("DEEPGUARD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("DEEPGUARD_DATABASE_URL", ""),
		DBSchema:    EnvString("DEEPGUARD_DB_SCHEMA", "deepguard"),
		DBMaxConns:  EnvInt32("DEEPGUARD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("DEEPGUARD_DB_MIN_CONNS", 0),

		CORSAllowedOrigins:   EnvStringSlice("DEEPGUARD_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("DEEPGUARD_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("DEEPGUARD_CORS_MAX_AGE_SECONDS", 600),

		SessionPurgeInterval: EnvDuration("DEEPGUARD_SESSION_PURGE_INTERVAL", time.Hour),
		OTPSweepInterval:     EnvDuration("DEEPGUARD_OTP_SWEEP_INTERVAL", time.Minute),

		ReadinessRequireDB: EnvBool("DEEPGUARD_READINESS_REQUIRE_DB", true),

		RequireTokenHMAC: EnvBool("DEEPGUARD_REQUIRE_TOKEN_HMAC", false),
	}
}
