// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	RedisURL       string `mapstructure:"REDIS_URL"`

	ForumAPIURL            string `mapstructure:"FORUM_API_URL"`
	ForumAPITimeoutSeconds int    `mapstructure:"FORUM_API_TIMEOUT_SECONDS"`
	// CommentFetchDepth is the number of child levels loaded per expansion.
	CommentFetchDepth int `mapstructure:"COMMENT_FETCH_DEPTH"`
	// ViewIdleTimeoutMinutes closes post views nobody touched for that long.
	ViewIdleTimeoutMinutes     int  `mapstructure:"VIEW_IDLE_TIMEOUT_MINUTES"`
	MutationRateLimitPerMinute int  `mapstructure:"MUTATION_RATE_LIMIT_PER_MINUTE"`
	StrictAddressing           bool `mapstructure:"STRICT_ADDRESSING"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from .env, config files and
// environment variables, in increasing order of precedence.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARNING: could not read .env: %v", err)
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env != "" && env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults(env)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(env string) {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:4200,http://127.0.0.1:4200")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("FORUM_API_URL", "http://localhost:8080")
	viper.SetDefault("FORUM_API_TIMEOUT_SECONDS", 10)
	viper.SetDefault("COMMENT_FETCH_DEPTH", 1)
	viper.SetDefault("VIEW_IDLE_TIMEOUT_MINUTES", 30)
	viper.SetDefault("MUTATION_RATE_LIMIT_PER_MINUTE", 30)
	// Invalid index chains panic in development so the defect is loud.
	viper.SetDefault("STRICT_ADDRESSING", env == "" || env == "development")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ForumAPITimeout returns the per-request timeout for forum calls.
func (c *Config) ForumAPITimeout() time.Duration {
	return time.Duration(c.ForumAPITimeoutSeconds) * time.Second
}

// ViewIdleTimeout returns how long an untouched post view stays open.
func (c *Config) ViewIdleTimeout() time.Duration {
	return time.Duration(c.ViewIdleTimeoutMinutes) * time.Minute
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.ForumAPIURL == "" {
		return errors.New("FORUM_API_URL is required")
	}
	if u, err := url.Parse(c.ForumAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("FORUM_API_URL %q is not an absolute URL", c.ForumAPIURL)
	}
	if c.CommentFetchDepth < 1 {
		return errors.New("COMMENT_FETCH_DEPTH must be at least 1")
	}
	if c.ForumAPITimeoutSeconds < 0 {
		return errors.New("FORUM_API_TIMEOUT_SECONDS cannot be negative")
	}
	if c.ViewIdleTimeoutMinutes < 1 {
		return errors.New("VIEW_IDLE_TIMEOUT_MINUTES must be at least 1")
	}
	if c.MutationRateLimitPerMinute < 1 {
		return errors.New("MUTATION_RATE_LIMIT_PER_MINUTE must be at least 1")
	}
	if c.TracingSamplerRatio < 0 || c.TracingSamplerRatio > 1 {
		return errors.New("TRACING_SAMPLER_RATIO must be between 0 and 1")
	}

	// Strict checks for production
	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if strings.HasPrefix(c.ForumAPIURL, "http://localhost") {
			log.Println("WARNING: FORUM_API_URL points at localhost in production.")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
