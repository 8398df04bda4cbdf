package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOllama:
		// Ollama needs no API key; host is validated by the plugin at init.
	default:
		return fmt.Errorf("%w: %q is not supported, must be one of: gemini, ollama",
			ErrInvalidProvider, c.Provider)
	}

	// 2. Model configuration validation
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 3. Retrieval configuration validation
	if c.TopK < 1 || c.TopK > 20 {
		return fmt.Errorf("%w: must be between 1 and 20, got %d", ErrInvalidTopK, c.TopK)
	}

	if c.IndexPath == "" {
		return fmt.Errorf("%w: index_path cannot be empty", ErrInvalidIndexPath)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection cannot be empty", ErrInvalidIndexPath)
	}

	// 4. Answer prompt validation: both placeholders must survive any override.
	if !strings.Contains(c.AnswerPrompt, "{context}") || !strings.Contains(c.AnswerPrompt, "{question}") {
		return fmt.Errorf("%w: answer_prompt must contain {context} and {question} placeholders",
			ErrInvalidPromptTemplate)
	}

	// 5. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "newsbot_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only - exclude deprecated allow/prefer (MITM vulnerable).
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe performs additional validation required by the HTTP server.
// The JWT secret is only needed in serve mode, so Load() does not require it.
func (c *Config) ValidateServe() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("%w: set NEWSBOT_JWT_SECRET or jwt_secret in config.yaml", ErrMissingJWTSecret)
	}
	if len(c.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("%w: must be at least %d bytes, got %d",
			ErrInvalidJWTSecret, minJWTSecretLen, len(c.JWTSecret))
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("%w: token_ttl_minutes must be positive, got %d",
			ErrInvalidJWTSecret, c.TokenTTLMinutes)
	}

	return nil
}
