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
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Backend  BackendConfig
	SCM      SCMConfig
	Pipeline PipelineConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string

	// DevAPIKey is a single shared operational key for development
	// deployments; empty in production
	DevAPIKey string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
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
	Host     string
	Port     int
	Password string
	DB       int
}

// BackendConfig holds text-generation backend settings.
// Selection order is Anthropic, xAI, OpenAI, then the no-credential
// Ollama fallback, unless Override pins a specific provider.
type BackendConfig struct {
	Override       string // "anthropic" | "xai" | "openai" | "ollama" | ""
	AnthropicKey   string
	AnthropicModel string
	XAIKey         string
	XAIModel       string
	OpenAIKey      string
	OpenAIModel    string
	OllamaURL      string
	OllamaModel    string
	CallTimeout    time.Duration
}

// SCMConfig holds source-control provider settings
type SCMConfig struct {
	BaseURL       string
	Token         string // fallback token when a project has no credential of its own
	WebhookSecret string
	BranchPrefix  string
}

// PipelineConfig holds scan pipeline tunables
type PipelineConfig struct {
	Workers        int
	StageAttempts  int
	BackoffBase    time.Duration
	LeaseDuration  time.Duration
	PollInterval   time.Duration
	MaxDiffBytes   int
	MaxDocContext  int
	MaxPatchBytes  int
	GroupFileLimit int // max changed files classified in a single generation call
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8400),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			DevAPIKey:   getEnv("TOME_DEV_API_KEY", ""),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "tome"),
			User:        getEnv("POSTGRES_USER", "tome"),
			Password:    getEnv("POSTGRES_PASSWORD", "tome"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 5),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Backend: BackendConfig{
			Override:       getEnv("TOME_BACKEND", ""),
			AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel: getEnv("TOME_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			XAIKey:         getEnv("XAI_API_KEY", ""),
			XAIModel:       getEnv("TOME_XAI_MODEL", "grok-3-mini"),
			OpenAIKey:      getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:    getEnv("TOME_OPENAI_MODEL", "gpt-4o-mini"),
			OllamaURL:      getEnv("TOME_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:    getEnv("TOME_OLLAMA_MODEL", "llama3.2:3b"),
			CallTimeout:    getEnvDuration("TOME_BACKEND_TIMEOUT", 120*time.Second),
		},
		SCM: SCMConfig{
			BaseURL:       getEnv("TOME_GITHUB_API", "https://api.github.com"),
			Token:         getEnv("TOME_GITHUB_TOKEN", ""),
			WebhookSecret: getEnv("TOME_WEBHOOK_SECRET", ""),
			BranchPrefix:  getEnv("TOME_BRANCH_PREFIX", "tome/"),
		},
		Pipeline: PipelineConfig{
			Workers:        getEnvInt("TOME_WORKERS", 4),
			StageAttempts:  getEnvInt("TOME_STAGE_ATTEMPTS", 3),
			BackoffBase:    getEnvDuration("TOME_BACKOFF_BASE", 2*time.Second),
			LeaseDuration:  getEnvDuration("TOME_LEASE_DURATION", 5*time.Minute),
			PollInterval:   getEnvDuration("TOME_POLL_INTERVAL", 15*time.Second),
			MaxDiffBytes:   getEnvInt("TOME_MAX_DIFF_SIZE", 8000),
			MaxDocContext:  getEnvInt("TOME_MAX_DOC_CONTEXT", 4000),
			MaxPatchBytes:  getEnvInt("TOME_MAX_PATCH_SIZE", 32768),
			GroupFileLimit: getEnvInt("TOME_GROUP_FILE_LIMIT", 5),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("workers must be >= 1")
	}

	if c.Pipeline.StageAttempts < 1 {
		return fmt.Errorf("stage_attempts must be >= 1")
	}

	switch c.Backend.Override {
	case "", "anthropic", "xai", "openai", "ollama":
	default:
		return fmt.Errorf("unknown backend override: %s", c.Backend.Override)
	}

	return nil
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

// RedisAddr returns the Redis host:port address
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
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
