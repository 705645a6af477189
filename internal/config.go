package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Env      string
	Port     int
	LogLevel string

	// Subscription and ledger store: "postgres" or "memory"
	Store       string
	DatabaseUrl string

	// Bearer token verification (HS256)
	JWTSecret string

	// Upstream providers. A missing key still builds the adapter; its calls
	// fail with an upstream error.
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	GeminiAPIKey     string
	GrokAPIKey       string
	PerplexityAPIKey string

	// Session timing
	UpstreamTimeout time.Duration
	FinalizeTimeout time.Duration

	// Emulated streaming after a fallback
	EmulationChunkSize int
	EmulationDelay     time.Duration

	// Rate limiting
	RateWindow           time.Duration
	IPRateLimitPerMinute int // Edge limit per client IP; 0 disables it

	// Optional TOML catalog override, hot reloaded
	CatalogPath string

	// Usage recording
	UsageQueueSize int
	UsageWorkers   int

	// Usage archive: "none", "local" or "r2"
	UsageArchive     string
	LocalArchivePath string

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2Endpoint        string // Optional; overrides the account endpoint

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Store:       getEnv("STORE", StorePostgres),
		DatabaseUrl: os.Getenv("DATABASE_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GrokAPIKey:       getEnv("GROK_API_KEY", ""),
		PerplexityAPIKey: getEnv("PERPLEXITY_API_KEY", ""),

		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
		FinalizeTimeout: getEnvDuration("FINALIZE_TIMEOUT", 10*time.Second),

		EmulationChunkSize: getEnvInt("EMULATION_CHUNK_SIZE", 120),
		EmulationDelay:     getEnvDuration("EMULATION_DELAY", 20*time.Millisecond),

		RateWindow:           getEnvDuration("RATE_WINDOW", time.Minute),
		IPRateLimitPerMinute: getEnvInt("IP_RATE_LIMIT_PER_MINUTE", 600),

		CatalogPath: getEnv("CATALOG_PATH", ""),

		UsageQueueSize: getEnvInt("USAGE_QUEUE_SIZE", 1024),
		UsageWorkers:   getEnvInt("USAGE_WORKERS", 2),

		UsageArchive:     getEnv("USAGE_ARCHIVE", "none"),
		LocalArchivePath: getEnv("LOCAL_ARCHIVE_PATH", "./archive"),

		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2Endpoint:        getEnv("R2_ENDPOINT", ""),

		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required keys and enumerations.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseUrl == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is 'postgres'")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE must be either 'postgres' or 'memory', got: %s", c.Store)
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	switch c.UsageArchive {
	case "none", "local":
	case "r2":
		if c.R2AccountID == "" && c.R2Endpoint == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when USAGE_ARCHIVE is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when USAGE_ARCHIVE is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when USAGE_ARCHIVE is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when USAGE_ARCHIVE is 'r2'")
		}
	default:
		return fmt.Errorf("USAGE_ARCHIVE must be 'none', 'local' or 'r2', got: %s", c.UsageArchive)
	}

	if c.UsageQueueSize < 1 {
		return fmt.Errorf("USAGE_QUEUE_SIZE must be at least 1")
	}
	if c.UsageWorkers < 1 {
		return fmt.Errorf("USAGE_WORKERS must be at least 1")
	}
	if c.UpstreamTimeout <= 0 || c.FinalizeTimeout <= 0 || c.RateWindow <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT, FINALIZE_TIMEOUT and RATE_WINDOW must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
