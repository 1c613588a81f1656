package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the promptpoll server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	LLM      LLMConfig
	Worker   WorkerConfig
	Limits   LimitsConfig
	Export   ExportConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type LLMConfig struct {
	RequestTimeout time.Duration
	OpenAI         OpenAIConfig
	Anthropic      AnthropicConfig
	Ollama         OllamaConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

type AnthropicConfig struct {
	APIKey  string
	BaseURL string
}

type OllamaConfig struct {
	BaseURL string
}

// WorkerConfig tunes the claim loop. The per-type caps bound how many jobs
// of each type may run concurrently under one worker process; execution is
// the most expensive because it blocks on provider latency.
type WorkerConfig struct {
	PollInterval    time.Duration
	ExecuteCap      int
	AnalyzeCap      int
	ExportCap       int
	MaxAttempts     int
	RetryBase       time.Duration
	LeaseDuration   time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration
}

// LimitsConfig is enforced against the pre-run estimate at submission time,
// never against actuals.
type LimitsConfig struct {
	MaxEstimatedCostUSD float64
	MaxEstimatedTokens  int64
	AvgInputTokens      int
	AvgOutputTokens     int
}

type ExportConfig struct {
	Dir string
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PROMPTPOLL_PORT", 8080),
			Env:  envString("PROMPTPOLL_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		LLM: LLMConfig{
			RequestTimeout: envDuration("LLM_REQUEST_TIMEOUT", 90*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			},
			Anthropic: AnthropicConfig{
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
			},
		},
		Worker: WorkerConfig{
			PollInterval:    envDuration("WORKER_POLL_INTERVAL", 500*time.Millisecond),
			ExecuteCap:      envInt("WORKER_EXECUTE_CAP", 4),
			AnalyzeCap:      envInt("WORKER_ANALYZE_CAP", 8),
			ExportCap:       envInt("WORKER_EXPORT_CAP", 2),
			MaxAttempts:     envInt("WORKER_MAX_ATTEMPTS", 3),
			RetryBase:       envDuration("WORKER_RETRY_BASE", 5*time.Second),
			LeaseDuration:   envDuration("WORKER_LEASE_DURATION", 5*time.Minute),
			SweepInterval:   envDuration("WORKER_SWEEP_INTERVAL", time.Minute),
			ShutdownTimeout: envDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Limits: LimitsConfig{
			MaxEstimatedCostUSD: envFloat("RUN_MAX_ESTIMATED_COST_USD", 25.0),
			MaxEstimatedTokens:  int64(envInt("RUN_MAX_ESTIMATED_TOKENS", 5_000_000)),
			AvgInputTokens:      envInt("RUN_AVG_INPUT_TOKENS", 500),
			AvgOutputTokens:     envInt("RUN_AVG_OUTPUT_TOKENS", 1000),
		},
		Export: ExportConfig{
			Dir: envString("EXPORT_DIR", "exports"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Worker.ExecuteCap < 1 || c.Worker.AnalyzeCap < 1 || c.Worker.ExportCap < 1 {
		return fmt.Errorf("worker concurrency caps must be at least 1")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_ATTEMPTS must be at least 1")
	}

	if c.Limits.MaxEstimatedCostUSD <= 0 {
		return fmt.Errorf("RUN_MAX_ESTIMATED_COST_USD must be positive")
	}
	if c.Limits.MaxEstimatedTokens <= 0 {
		return fmt.Errorf("RUN_MAX_ESTIMATED_TOKENS must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
