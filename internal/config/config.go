package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// MinCompactionInterval keeps a misconfigured interval from hammering the database.
	MinCompactionInterval = 10 * time.Second
	MaxPageLimit          = 500
)

type Config struct {
	ServerPort          string
	DatabaseURL         string
	RedisURL            string
	JWTSecret           string
	JWTExpiry           time.Duration
	AuthDevIssue        bool
	AuthIssueSecretHash string
	LogLevel            string

	InstanceID     string
	UpdatesChannel string

	TxMaxRetries int

	ChangesPageLimit          int
	ChangesMaxEntries         int
	ChangesCompactionEnabled  bool
	ChangesCompactionInterval time.Duration

	ShutdownTimeout time.Duration
}

func LoadConfig() (*Config, error) {
	expiry, err := time.ParseDuration(getEnv("JWT_EXPIRY", "24h"))
	if err != nil {
		return nil, errors.New("invalid JWT_EXPIRY format")
	}

	shutdownTimeout, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"))
	if err != nil {
		return nil, errors.New("invalid SHUTDOWN_TIMEOUT format")
	}

	compactionInterval, err := time.ParseDuration(getEnv("CHANGES_COMPACTION_INTERVAL", "6h"))
	if err != nil {
		return nil, errors.New("invalid CHANGES_COMPACTION_INTERVAL format")
	}
	if compactionInterval < MinCompactionInterval {
		compactionInterval = MinCompactionInterval
	}

	txMaxRetries, err := getEnvInt("TX_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	pageLimit, err := getEnvInt("CHANGES_PAGE_LIMIT", 200)
	if err != nil {
		return nil, err
	}
	maxEntries, err := getEnvInt("CHANGES_MAX_ENTRIES_PER_ACCOUNT", 1000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTExpiry:           expiry,
		AuthDevIssue:        getEnvBool("AUTH_DEV_ISSUE"),
		AuthIssueSecretHash: os.Getenv("AUTH_ISSUE_SECRET_HASH"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),

		InstanceID:     os.Getenv("INSTANCE_ID"),
		UpdatesChannel: getEnv("UPDATES_CHANNEL", "changesync:updates"),

		TxMaxRetries: txMaxRetries,

		ChangesPageLimit:          pageLimit,
		ChangesMaxEntries:         maxEntries,
		ChangesCompactionEnabled:  getEnvBool("CHANGES_COMPACTION_ENABLED"),
		ChangesCompactionInterval: compactionInterval,

		ShutdownTimeout: shutdownTimeout,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.TxMaxRetries < 0 {
		return nil, errors.New("TX_MAX_RETRIES must not be negative")
	}
	if cfg.ChangesPageLimit < 1 || cfg.ChangesPageLimit > MaxPageLimit {
		return nil, fmt.Errorf("CHANGES_PAGE_LIMIT must be between 1 and %d", MaxPageLimit)
	}
	if cfg.ChangesMaxEntries < 1 {
		return nil, errors.New("CHANGES_MAX_ENTRIES_PER_ACCOUNT must be positive")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	}
	return false
}
