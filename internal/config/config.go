// Package config provides environment-aware configuration loading for chengisd.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sremani/chengis/internal/logging"
)

// Environment identifies the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// ParseEnvironment parses a string into a known Environment.
func ParseEnvironment(s string) (Environment, bool) {
	switch Environment(strings.ToLower(s)) {
	case Development:
		return Development, true
	case Testing:
		return Testing, true
	case Production:
		return Production, true
	default:
		return "", false
	}
}

// DatabaseConfig describes the Postgres persistence collaborator connection.
type DatabaseConfig struct {
	DSN            string
	MaxConnections int
	IdleTimeout    time.Duration
}

// LoggingConfig mirrors logging.Config; the runtime wiring root translates
// this into a logging.Config when constructing the logger.
type LoggingConfig struct {
	Level      string
	Format     string
	Output     string
	FilePrefix string
}

// Config holds all chengisd configuration.
type Config struct {
	Env Environment

	ListenAddr string

	WorkspaceRoot string
	ArtifactsRoot string
	CacheRoot     string
	CacheRetain   time.Duration

	MaxConcurrentBuilds int
	MaxConcurrentStages int
	MaxParallelSteps    int
	MaxMatrixCombos     int

	ApprovalPollInterval time.Duration

	CronPollInterval       time.Duration
	CronMissedRunThreshold time.Duration
	EventBusPublishTimeout time.Duration

	Logging  LoggingConfig
	Database DatabaseConfig

	MetricsEnabled bool
	MetricsAddr    string
}

// Load reads configuration based on the CHENGIS_ENV environment variable,
// optionally layering an environment-specific .env file first.
func Load() (*Config, error) {
	envStr := os.Getenv("CHENGIS_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env, ok := ParseEnvironment(envStr)
	if !ok {
		return nil, fmt.Errorf("invalid CHENGIS_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	c.WorkspaceRoot = getEnv("WORKSPACE_ROOT", "/var/lib/chengis/workspaces")
	c.ArtifactsRoot = getEnv("ARTIFACTS_ROOT", "/var/lib/chengis/artifacts")
	c.CacheRoot = getEnv("CACHE_ROOT", "/var/lib/chengis/cache")

	retainDays := getIntEnv("CACHE_RETENTION_DAYS", 30)
	c.CacheRetain = time.Duration(retainDays) * 24 * time.Hour

	c.MaxConcurrentBuilds = getIntEnv("BUILD_WORKER_POOL_SIZE", 4)
	c.MaxConcurrentStages = getIntEnv("PARALLEL_STAGES_MAX_CONCURRENT", 4)
	c.MaxParallelSteps = getIntEnv("THREAD_POOLS_MAX_PARALLEL_STEPS", 8)
	c.MaxMatrixCombos = getIntEnv("MATRIX_MAX_COMBINATIONS", 25)

	approvalPollMS := getIntEnv("APPROVALS_POLL_INTERVAL_MS", 5000)
	c.ApprovalPollInterval = time.Duration(approvalPollMS) * time.Millisecond

	cronPollSeconds := getIntEnv("CRON_POLL_INTERVAL_SECONDS", 60)
	c.CronPollInterval = time.Duration(cronPollSeconds) * time.Second

	missedRunMinutes := getIntEnv("CRON_MISSED_RUN_THRESHOLD_MINUTES", 10)
	c.CronMissedRunThreshold = time.Duration(missedRunMinutes) * time.Minute

	publishTimeoutMS := getIntEnv("EVENT_BUS_PUBLISH_TIMEOUT_MS", 30000)
	c.EventBusPublishTimeout = time.Duration(publishTimeoutMS) * time.Millisecond

	logCfg, err := logging.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to decode logging configuration: %w", err)
	}
	c.Logging = LoggingConfig{
		Level:      logCfg.Level,
		Format:     logCfg.Format,
		Output:     logCfg.Output,
		FilePrefix: logCfg.FilePrefix,
	}

	c.Database = DatabaseConfig{
		DSN:            getEnv("DATABASE_DSN", ""),
		MaxConnections: getIntEnv("DB_MAX_CONNECTIONS", 20),
		IdleTimeout:    time.Duration(getIntEnv("DB_IDLE_TIMEOUT_SECONDS", 300)) * time.Second,
	}

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)
	c.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	return nil
}

// IsDevelopment reports whether c targets the development environment.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting reports whether c targets the testing environment.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction reports whether c targets the production environment.
func (c *Config) IsProduction() bool { return c.Env == Production }

// Validate enforces production-mode invariants and basic sanity checks.
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace root is required")
	}
	if c.ArtifactsRoot == "" {
		return fmt.Errorf("artifacts root is required")
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("cache root is required")
	}
	if c.MaxConcurrentBuilds <= 0 {
		return fmt.Errorf("build worker pool size must be positive")
	}
	if c.MaxConcurrentStages <= 0 {
		return fmt.Errorf("parallel-stages.max-concurrent must be positive")
	}
	if c.MaxParallelSteps <= 0 {
		return fmt.Errorf("thread-pools.max-parallel-steps must be positive")
	}
	if c.MaxMatrixCombos <= 0 {
		return fmt.Errorf("matrix.max-combinations must be positive")
	}

	if c.IsProduction() {
		if c.Database.DSN == "" {
			return fmt.Errorf("DATABASE_DSN is required in production")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			return iv
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if bv, err := strconv.ParseBool(v); err == nil {
			return bv
		}
	}
	return defaultValue
}
