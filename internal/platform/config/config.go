package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process level configuration. FromEnv keeps main lean; every
// knob has a development default.
type Server struct {
	Addr          string
	JWTSigningKey string

	// PostgresURL selects the durable store; empty keeps everything in
	// memory, which is what tests and local development use.
	PostgresURL string

	Redis RedisConfig

	// WizardSessionTTL discards idle submission sessions with no side
	// effects.
	WizardSessionTTL time.Duration
	// RetentionWindow is the initial lifetime of a committed tip.
	RetentionWindow time.Duration
	// PostponeWindow is how far each postpone pushes the deadline.
	PostponeWindow time.Duration
	// SweepInterval paces the background expiry sweep.
	SweepInterval time.Duration
	// TokenTTL bounds recipient session tokens.
	TokenTTL time.Duration

	// MaxAttachments bounds the wizard's attachment step.
	MaxAttachments int
	// RequiredFieldIDs must be present at the wizard's content step.
	RequiredFieldIDs []string

	// SeedRecipientUsername and SeedRecipientPassword, when both set,
	// register a recipient account at startup if none exists yet.
	SeedRecipientUsername string
	SeedRecipientPassword string
}

// RedisConfig configures the optional Redis-backed wizard session store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:          getenv("TIPLINE_ADDR", ":8080"),
		JWTSigningKey: getenv("TIPLINE_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresURL:   os.Getenv("TIPLINE_POSTGRES_URL"),
		Redis: RedisConfig{
			URL:          os.Getenv("TIPLINE_REDIS_URL"),
			PoolSize:     getint("TIPLINE_REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("TIPLINE_REDIS_MIN_IDLE", 2),
			DialTimeout:  getduration("TIPLINE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getduration("TIPLINE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getduration("TIPLINE_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		WizardSessionTTL: getduration("TIPLINE_WIZARD_SESSION_TTL", 3*time.Hour),
		RetentionWindow:  getduration("TIPLINE_RETENTION_WINDOW", 15*24*time.Hour),
		PostponeWindow:   getduration("TIPLINE_POSTPONE_WINDOW", 15*24*time.Hour),
		SweepInterval:    getduration("TIPLINE_SWEEP_INTERVAL", time.Minute),
		TokenTTL:         getduration("TIPLINE_TOKEN_TTL", time.Hour),
		MaxAttachments:   getint("TIPLINE_MAX_ATTACHMENTS", 10),
		RequiredFieldIDs: []string{"content"},

		SeedRecipientUsername: os.Getenv("TIPLINE_SEED_RECIPIENT_USERNAME"),
		SeedRecipientPassword: os.Getenv("TIPLINE_SEED_RECIPIENT_PASSWORD"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
