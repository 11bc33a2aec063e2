package gemini

import (
	"fmt"
	"time"
)

// Config holds the Gemini client settings.
type Config struct {
	APIKey     string        `mapstructure:"api_key" validate:"required"`
	Model      string        `mapstructure:"model" validate:"required"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	// Prompt is a text/template executed with the request; empty uses the
	// built-in transcription prompt.
	Prompt string `mapstructure:"prompt"`
}

// DefaultConfig returns a Config with reasonable defaults. APIKey is unset.
func DefaultConfig() Config {
	return Config{
		Model:      "gemini-2.0-flash",
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
	}
}

// validate fills defaults for retry settings and rejects missing credentials.
func (c *Config) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key cannot be empty", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	def := DefaultConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	return nil
}
