package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL  string
	Port         string
	IsProduction bool
	JWTSecret    string

	// BankRosterPath locates the YAML roster of bank endpoints.
	BankRosterPath string
	// KnownHostsFile enables strict SSH host key checking when set.
	KnownHostsFile string
	// QuarantineDir receives response files that fail signature verification.
	QuarantineDir string
	// RateLimit is a limiter format string such as "60-M".
	RateLimit string

	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryMaxAttempts int
	RetryDrainEvery  time.Duration
	RetryStallAfter  time.Duration

	PoolAcquireTimeout      time.Duration
	PoolHealthCheckInterval time.Duration
}

// LoadConfig loads configuration from environment variables.
// It looks for a .env file first.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	dbURL := os.Getenv("PGSQL_URL")
	if dbURL == "" {
		log.Println("Warning: PGSQL_URL environment variable not set.")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Println("Warning: JWT_SECRET environment variable not set; API authentication is disabled.")
	}

	rosterPath := os.Getenv("BANK_ROSTER_PATH")
	if rosterPath == "" {
		rosterPath = "banks.yaml"
	}

	quarantineDir := os.Getenv("QUARANTINE_DIR")
	if quarantineDir == "" {
		quarantineDir = "quarantine"
	}

	rateLimit := os.Getenv("RATE_LIMIT")
	if rateLimit == "" {
		rateLimit = "120-M"
	}

	return &Config{
		DatabaseURL:    dbURL,
		Port:           port,
		IsProduction:   envBool("IS_PRODUCTION", false),
		JWTSecret:      jwtSecret,
		BankRosterPath: rosterPath,
		KnownHostsFile: os.Getenv("SSH_KNOWN_HOSTS_FILE"),
		QuarantineDir:  quarantineDir,
		RateLimit:      rateLimit,

		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerRecoveryTimeout:  envDuration("BREAKER_RECOVERY_TIMEOUT", 10*time.Minute),

		RetryBaseDelay:   envDuration("RETRY_BASE_DELAY", time.Hour),
		RetryMaxDelay:    envDuration("RETRY_MAX_DELAY", 8*time.Hour),
		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 3),
		RetryDrainEvery:  envDuration("RETRY_DRAIN_EVERY", 5*time.Minute),
		RetryStallAfter:  envDuration("RETRY_STALL_AFTER", 15*time.Minute),

		PoolAcquireTimeout:      envDuration("POOL_ACQUIRE_TIMEOUT", 10*time.Second),
		PoolHealthCheckInterval: envDuration("POOL_HEALTH_CHECK_INTERVAL", time.Minute),
	}, nil
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("Warning: Invalid value for %s (%q). Defaulting to %v.\n", key, raw, fallback)
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("Warning: Invalid value for %s (%q). Defaulting to %d.\n", key, raw, fallback)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: Invalid value for %s (%q). Defaulting to %s.\n", key, raw, fallback)
		return fallback
	}
	return v
}
