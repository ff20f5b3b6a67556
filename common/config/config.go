package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service   ServiceConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	Reasoning ReasoningConfig
	Improver  ImproverConfig
	Features  FeatureFlags
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	StoreType   string // "postgres" or "memory"
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// CacheConfig holds status cache settings
type CacheConfig struct {
	Enabled    bool
	DefaultTTL time.Duration
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
}

// ReasoningConfig holds settings for the external reasoning service.
// An empty APIKey disables the judge and auto-implementation phases.
type ReasoningConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ImproverConfig holds pipeline tuning
type ImproverConfig struct {
	SampleSize     int
	PriorRuns      int
	MinGroupTrades int
	RunTimeout     time.Duration
	Schedule       string // cron expression, empty disables scheduled runs
	GapWindow      time.Duration

	TunablesPath      string
	PolicyPath        string
	AllowedPatchPaths []string // JSON Pointer prefixes Phase 3 may touch

	RepoDir     string
	WorktreeDir string
	BaseRef     string
	TestCommand string
	TestTimeout time.Duration

	InternalSecret string
	LossRateLimit  int64 // loss triggers per pair per hour
}

// FeatureFlags gate the self-modifying phases. All default to off.
type FeatureFlags struct {
	GeneralAutoApply     bool
	StrategyAutoApply    bool
	HighRiskAutoApproval bool
	AutoImplement        bool
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			StoreType:   getEnv("STORE_TYPE", "postgres"),
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "seed_improver"),
			User:        getEnv("POSTGRES_USER", "seed_improver"),
			Password:    getEnv("POSTGRES_PASSWORD", "seed_improver"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 2),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled:    getEnvBool("CACHE_ENABLED", true),
			DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1*time.Hour),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
		},
		Reasoning: ReasoningConfig{
			APIKey:  getEnv("REASONING_API_KEY", os.Getenv("GEMINI_API_KEY")),
			Model:   getEnv("REASONING_MODEL", "gemini-2.5-flash"),
			Timeout: getEnvDuration("REASONING_TIMEOUT", 90*time.Second),
		},
		Improver: ImproverConfig{
			SampleSize:     getEnvInt("SEED_IMPROVER_SAMPLE_SIZE", 30),
			PriorRuns:      getEnvInt("SEED_IMPROVER_PRIOR_RUNS", 3),
			MinGroupTrades: getEnvInt("SEED_IMPROVER_MIN_GROUP_TRADES", 3),
			RunTimeout:     getEnvDuration("SEED_IMPROVER_RUN_TIMEOUT", 30*time.Minute),
			Schedule:       getEnv("SEED_IMPROVER_SCHEDULE", ""),
			GapWindow:      getEnvDuration("SEED_IMPROVER_GAP_WINDOW", 24*time.Hour),
			TunablesPath:   getEnv("SEED_IMPROVER_TUNABLES_PATH", "config/tunables.json"),
			PolicyPath:     getEnv("SEED_IMPROVER_POLICY_PATH", ""),
			RepoDir:        getEnv("SEED_IMPROVER_REPO_DIR", "."),
			WorktreeDir:    getEnv("SEED_IMPROVER_WORKTREE_DIR", os.TempDir()),
			BaseRef:        getEnv("SEED_IMPROVER_BASE_REF", "HEAD"),
			TestCommand:    getEnv("SEED_IMPROVER_TEST_COMMAND", "go test ./..."),
			TestTimeout:    getEnvDuration("SEED_IMPROVER_TEST_TIMEOUT", 10*time.Minute),
			InternalSecret: getEnv("INTERNAL_SERVICE_SECRET", ""),
			LossRateLimit:  int64(getEnvInt("SEED_IMPROVER_LOSS_RATE_LIMIT", 10)),
			AllowedPatchPaths: getEnvSlice("SEED_IMPROVER_PATCH_PATHS", []string{
				"/telemetry", "/execution", "/risk", "/strategies", "/regime_filters",
			}),
		},
		Features: FeatureFlags{
			GeneralAutoApply:     getEnvBool("SEED_IMPROVER_AUTO_APPLY", false),
			StrategyAutoApply:    getEnvBool("SEED_IMPROVER_STRATEGY_AUTO_APPLY", false),
			HighRiskAutoApproval: getEnvBool("SEED_IMPROVER_AUTO_APPROVE_HIGH_RISK", false),
			AutoImplement:        getEnvBool("SEED_IMPROVER_AUTO_IMPLEMENT", false),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	switch c.Database.StoreType {
	case "memory":
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			return fmt.Errorf("max_conns must be >= min_conns")
		}
	default:
		return fmt.Errorf("unknown store type: %s", c.Database.StoreType)
	}

	if c.Improver.SampleSize < 1 {
		return fmt.Errorf("sample size must be positive, got %d", c.Improver.SampleSize)
	}

	if c.Improver.PriorRuns < 0 {
		return fmt.Errorf("prior runs must not be negative, got %d", c.Improver.PriorRuns)
	}

	if c.Reasoning.Timeout <= 0 {
		return fmt.Errorf("reasoning timeout must be positive")
	}

	return nil
}

// ReasoningEnabled reports whether a reasoning-service credential is configured
func (c *Config) ReasoningEnabled() bool {
	return c.Reasoning.APIKey != ""
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
