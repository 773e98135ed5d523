// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Upstream providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// minJWTSecretLength is the shortest accepted HS256 secret.
const minJWTSecretLength = 16

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Tokens
	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"168h"`

	// Logging
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat     string `env:"LOG_FORMAT" envDefault:"json"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`

	// Server timeouts. Writes wait on the upstream model, so the write
	// timeout must exceed UpstreamTimeout.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"90s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Upstream conversational API
	UpstreamProvider  string        `env:"UPSTREAM_PROVIDER" envDefault:"anthropic"`
	UpstreamModel     string        `env:"UPSTREAM_MODEL" envDefault:"claude-3-5-haiku-20241022"`
	UpstreamMaxTokens int           `env:"UPSTREAM_MAX_TOKENS" envDefault:"500"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"60s"`
	AnthropicAPIKey   string        `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL  string        `env:"ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com"`
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`

	// Quota
	QuotaTimezone       string  `env:"QUOTA_TIMEZONE" envDefault:"UTC"`
	DefaultDailyMinutes float64 `env:"DEFAULT_DAILY_MINUTES" envDefault:"60"`
	DefaultPersonality  string  `env:"DEFAULT_PERSONALITY" envDefault:"Sei un assistente vocale educativo amichevole e professionale. Rispondi in modo MOLTO conciso e diretto, massimo 2-3 frasi brevi per risposta."`

	// Bootstrap super admin, created at startup when the password is set
	SuperAdminEmail    string `env:"SUPER_ADMIN_EMAIL" envDefault:"admin@example.com"`
	SuperAdminPassword string `env:"SUPER_ADMIN_PASSWORD"`

	// Rate limiting
	RateLimitEnabled       bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitAuthPerMinute int  `env:"RATE_LIMIT_AUTH_PER_MINUTE" envDefault:"10"`
	RateLimitAuthBurst     int  `env:"RATE_LIMIT_AUTH_BURST" envDefault:"5"`
	RateLimitChatPerMinute int  `env:"RATE_LIMIT_CHAT_PER_MINUTE" envDefault:"20"`
	RateLimitChatBurst     int  `env:"RATE_LIMIT_CHAT_BURST" envDefault:"5"`

	// CORS configuration
	// Comma-separated list of allowed origins (e.g., "https://example.com,https://app.example.com")
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// Validate checks cross-field constraints env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if len(c.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("JWT_TTL must be positive"))
	}

	switch c.UpstreamProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("UPSTREAM_PROVIDER %q is not one of anthropic, openai", c.UpstreamProvider))
	}

	if c.UpstreamMaxTokens <= 0 {
		errs = append(errs, errors.New("UPSTREAM_MAX_TOKENS must be positive"))
	}
	if c.UpstreamTimeout > 0 && c.WriteTimeout > 0 && c.WriteTimeout <= c.UpstreamTimeout {
		errs = append(errs, errors.New("WRITE_TIMEOUT must exceed UPSTREAM_TIMEOUT"))
	}
	if c.DefaultDailyMinutes <= 0 {
		errs = append(errs, errors.New("DEFAULT_DAILY_MINUTES must be positive"))
	}
	if c.QuotaTimezone != "" {
		if _, err := time.LoadLocation(c.QuotaTimezone); err != nil {
			errs = append(errs, fmt.Errorf("QUOTA_TIMEZONE: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Load reads an optional .env file, parses environment variables and
// validates the result. Variables already set in the environment win over
// the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
