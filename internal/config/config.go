// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.newsbot/config.yaml or ./config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: provider, generation model, embedder model, temperature
//   - Storage: PostgreSQL connection for feeds, articles, users, history
//   - Index: on-disk vector index directory, collection name, top-k
//   - RAG: answer prompt template
//   - Serve: JWT secret, CORS origins, rate limiting, proxy trust
//
// Security: sensitive fields (password, JWT secret) are masked in MarshalJSON;
// the config directory uses 0750 permissions.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTopK indicates the retrieval top-k value is out of range.
	ErrInvalidTopK = errors.New("invalid top-k")

	// ErrInvalidPromptTemplate indicates the answer prompt template is malformed.
	ErrInvalidPromptTemplate = errors.New("invalid prompt template")

	// ErrInvalidIndexPath indicates the vector index path is invalid.
	ErrInvalidIndexPath = errors.New("invalid index path")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingJWTSecret indicates the JWT signing secret is not set.
	ErrMissingJWTSecret = errors.New("missing JWT secret")

	// ErrInvalidJWTSecret indicates the JWT signing secret is too short.
	ErrInvalidJWTSecret = errors.New("invalid JWT secret")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

const (
	// DefaultCollection is the unified article collection name.
	DefaultCollection = "articles"

	// DefaultTopK is the number of documents retrieved per question.
	DefaultTopK = 4

	// DefaultEmbedderModel is the default Gemini embedder model.
	DefaultEmbedderModel = "text-embedding-004"

	// minJWTSecretLen is the minimum accepted HS256 secret length in bytes.
	minJWTSecretLen = 32
)

// DefaultAnswerPrompt is the final-answer template. The {context} and
// {question} placeholders are substituted at ask time.
const DefaultAnswerPrompt = `You are a helpful news assistant. Answer the user's question based only on the following context about news.
If the context does not contain the answer, state that you don't have enough information.

Context:
{context}

Question:
{question}

Answer:`

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update MarshalJSON.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"` // "gemini" (default) or "ollama"
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`
	OllamaHost    string  `mapstructure:"ollama_host" json:"ollama_host"`

	// Vector index configuration
	IndexPath  string `mapstructure:"index_path" json:"index_path"`
	Collection string `mapstructure:"collection" json:"collection"`
	TopK       int    `mapstructure:"top_k" json:"top_k"`

	// RAG configuration
	AnswerPrompt string `mapstructure:"answer_prompt" json:"answer_prompt"`

	// Storage configuration (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Ingestion scheduler configuration
	RefreshIntervalMinutes int `mapstructure:"refresh_interval_minutes" json:"refresh_interval_minutes"` // 0 = disabled

	// Serve configuration
	JWTSecret       string   `mapstructure:"jwt_secret" json:"jwt_secret"` // SENSITIVE: masked in MarshalJSON
	TokenTTLMinutes int      `mapstructure:"token_ttl_minutes" json:"token_ttl_minutes"`
	CORSOrigins     []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy      bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst       int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration (empty endpoint disables trace export)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level" json:"log_level"` // debug, info, warn, error
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".newsbot")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("temperature", 0.0) // grounded answers, deterministic
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Vector index defaults
	viper.SetDefault("index_path", "data/index")
	viper.SetDefault("collection", DefaultCollection)
	viper.SetDefault("top_k", DefaultTopK)

	// RAG defaults
	viper.SetDefault("answer_prompt", DefaultAnswerPrompt)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "newsbot")
	viper.SetDefault("postgres_password", "newsbot_dev_password")
	viper.SetDefault("postgres_db_name", "newsbot")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Scheduler defaults (disabled unless configured)
	viper.SetDefault("refresh_interval_minutes", 0)

	// Serve defaults
	viper.SetDefault("token_ttl_minutes", 30)
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	// Observability defaults (disabled unless endpoint set)
	viper.SetDefault("service_name", "newsbot")
	viper.SetDefault("environment", "dev")

	// Logging defaults
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_json", false)
}

// bindEnvVariables binds environment variables explicitly.
// GEMINI_API_KEY is read directly by Genkit, not via Viper; its presence is
// checked in Validate() when the gemini provider is selected.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("jwt_secret", "NEWSBOT_JWT_SECRET")
	mustBind("cors_origins", "NEWSBOT_CORS_ORIGINS")
	mustBind("trust_proxy", "NEWSBOT_TRUST_PROXY")
	mustBind("provider", "NEWSBOT_PROVIDER")
	mustBind("model_name", "NEWSBOT_MODEL_NAME")
	mustBind("ollama_host", "NEWSBOT_OLLAMA_HOST")
	mustBind("index_path", "NEWSBOT_INDEX_PATH")
	mustBind("otlp_endpoint", "NEWSBOT_OTLP_ENDPOINT")
	mustBind("log_level", "NEWSBOT_LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 bytes or fewer are fully masked; longer secrets keep the first
// and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config // avoid recursion
	masked := alias(*c)
	masked.PostgresPassword = maskSecret(c.PostgresPassword)
	masked.JWTSecret = maskSecret(c.JWTSecret)
	return json.Marshal(masked)
}

// SlogLevel maps the configured log level string to a slog.Level.
// Unknown values fall back to Info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
