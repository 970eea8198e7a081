package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Upstream model
	LLMProvider            string
	OpenRouterAPIKey       string
	OpenRouterBaseURL      string
	OpenRouterModel        string
	GeminiAPIKey           string
	GeminiModel            string
	GeminiConcurrentReqs   int
	UpstreamTimeout        time.Duration
	UpstreamMaxRetries     int
	UpstreamRequestsPerMin int

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CleanupInterval   time.Duration

	// Frontend
	FrontendURL string
	SiteName    string
}

// Load reads server configuration from the environment. A missing provider
// credential is fatal.
func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                   getEnvOrDefault("PORT", "8080"),
		Env:                    getEnvOrDefault("ENV", "development"),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
		LLMProvider:            getEnvOrDefault("LLM_PROVIDER", ProviderOpenRouter),
		OpenRouterBaseURL:      getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModel:        getEnvOrDefault("OPENROUTER_MODEL", "deepseek/deepseek-chat"),
		GeminiModel:            getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiConcurrentReqs:   getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		UpstreamTimeout:        getEnvAsDurationOrDefault("UPSTREAM_TIMEOUT", 30*time.Second),
		UpstreamMaxRetries:     getEnvAsIntOrDefault("UPSTREAM_MAX_RETRIES", 3),
		UpstreamRequestsPerMin: getEnvAsIntOrDefault("UPSTREAM_REQUESTS_PER_MINUTE", 60),
		RateLimitRequests:      getEnvAsIntOrDefault("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:        getEnvAsDurationOrDefault("RATE_LIMIT_WINDOW", time.Minute),
		CleanupInterval:        getEnvAsDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		FrontendURL:            getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
		SiteName:               getEnvOrDefault("SITE_NAME", "First Principle AI Bot"),
	}

	switch cfg.LLMProvider {
	case ProviderOpenRouter:
		cfg.OpenRouterAPIKey = mustGetEnv("OPENROUTER_API_KEY")
	case ProviderGemini:
		cfg.GeminiAPIKey = mustGetEnv("GEMINI_API_KEY")
	default:
		panic(fmt.Sprintf("unsupported LLM_PROVIDER %q", cfg.LLMProvider))
	}

	return cfg
}

// History backends for the terminal client.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ClientConfig configures the terminal chat client.
type ClientConfig struct {
	ServerURL      string        `toml:"server_url"`
	HistoryBackend string        `toml:"history_backend"`
	DataDir        string        `toml:"data_dir"`
	RedisURL       string        `toml:"redis_url"`
	DatabaseURL    string        `toml:"database_url"`
	Timeout        time.Duration `toml:"timeout"`
	MaxRetries     int           `toml:"max_retries"`
	RateLimit      int           `toml:"rate_limit"`
	RateWindow     time.Duration `toml:"rate_window"`
	LogLevel       string        `toml:"log_level"`
}

func defaultClientConfig() ClientConfig {
	dataDir := ".firstprinciple"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".firstprinciple")
	}
	return ClientConfig{
		ServerURL:      "http://localhost:8080",
		HistoryBackend: BackendFile,
		DataDir:        dataDir,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RateLimit:      10,
		RateWindow:     time.Minute,
		LogLevel:       "warn",
	}
}

// LoadClient reads an optional TOML file and then applies environment
// overrides. A missing file is not an error.
func LoadClient(path string) (*ClientConfig, error) {
	godotenv.Load()

	cfg := defaultClientConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg.ServerURL = getEnvOrDefault("CHAT_SERVER_URL", cfg.ServerURL)
	cfg.HistoryBackend = getEnvOrDefault("HISTORY_BACKEND", cfg.HistoryBackend)
	cfg.DataDir = getEnvOrDefault("CHAT_DATA_DIR", cfg.DataDir)
	cfg.RedisURL = getEnvOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseURL)
	cfg.Timeout = getEnvAsDurationOrDefault("CHAT_TIMEOUT", cfg.Timeout)
	cfg.MaxRetries = getEnvAsIntOrDefault("CHAT_MAX_RETRIES", cfg.MaxRetries)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)

	switch cfg.HistoryBackend {
	case BackendFile, BackendSQLite:
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("history backend redis requires REDIS_URL")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("history backend postgres requires DATABASE_URL")
		}
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.HistoryBackend)
	}

	return &cfg, nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
