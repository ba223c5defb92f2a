package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	DatabaseURL    string
	StorageBackend string // "postgres" or "memory"
	CORSOrigins    string
	TablePrefix    string
	// Auth
	JWKSURL   string // Verifies RS256/ES256 tokens when set
	JWTSecret string // HS256 shared secret, used when JWKSURL is empty
	// LLM Configuration
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	DefaultProvider string
	DefaultModel    string
	// MCP
	MCPConfigPath string
	// Logging
	LogLevel    string
	LogDir      string
	LogMaxFiles int
	// WebSocket
	WSPingInterval   time.Duration
	MaxMessageLength int
	// Debug flags
	Debug bool
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")
	tablePrefix := getTablePrefix(env)
	databaseURL := getEnv("DATABASE_URL", "")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    env,
		DatabaseURL:    databaseURL,
		StorageBackend: getStorageBackend(databaseURL),
		CORSOrigins:    getEnv("CORS_ORIGINS", "http://localhost:3000"),
		TablePrefix:    tablePrefix,
		JWKSURL:        getEnv("JWKS_URL", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		// LLM Configuration
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		DefaultProvider: getEnv("DEFAULT_PROVIDER", "lorem"),
		DefaultModel:    getEnv("DEFAULT_MODEL", "lorem-fast"),
		MCPConfigPath:   getEnv("MCP_CONFIG_PATH", "mcp_servers.yaml"),
		LogLevel:        getEnv("LOG_LEVEL", ""),
		LogDir:          getEnv("LOG_DIR", ""),
		LogMaxFiles:     getEnvInt("LOG_MAX_FILES", DefaultLogMaxFiles),
		// WebSocket
		WSPingInterval:   getEnvDuration("WS_PING_INTERVAL", DefaultPingInterval),
		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", MaxMessageLength),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// SlogLevel resolves the configured log level. LOG_LEVEL wins; otherwise dev
// logs at debug and everything else at info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	if c.Environment == "dev" {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// UsesPostgres reports whether repositories should be backed by PostgreSQL
func (c *Config) UsesPostgres() bool {
	return c.StorageBackend == "postgres"
}

// getStorageBackend picks postgres when a database URL is present, unless
// STORAGE_BACKEND says otherwise.
func getStorageBackend(databaseURL string) string {
	if backend := os.Getenv("STORAGE_BACKEND"); backend != "" {
		return strings.ToLower(backend)
	}
	if databaseURL != "" {
		return "postgres"
	}
	return "memory"
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

// getTablePrefix returns the table prefix based on environment
func getTablePrefix(env string) string {
	// Allow manual override via TABLE_PREFIX env var
	if prefix := os.Getenv("TABLE_PREFIX"); prefix != "" {
		return prefix
	}

	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
