package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ProviderCredentials holds the OAuth client registration for one provider.
// A provider is enabled only when its ClientID is set.
type ProviderCredentials struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	RedirectURI  string `env:"REDIRECT_URI"`
}

// SMTPConfig holds outbound mail settings for password-reset delivery.
// When Server is empty, emails are logged instead of sent.
type SMTPConfig struct {
	Server   string `env:"SERVER"`
	Port     int    `env:"PORT" envDefault:"587"`
	User     string `env:"USER"`
	Password string `env:"PASSWORD"`
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	SecretKey                string `env:"SECRET_KEY"`
	Algorithm                string `env:"ALGORITHM" envDefault:"HS256"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	ResetTokenExpireMinutes  int    `env:"RESET_PASSWORD_EXPIRES_MINUTES" envDefault:"15"`

	Google   ProviderCredentials `envPrefix:"GOOGLE_"`
	Facebook ProviderCredentials `envPrefix:"FACEBOOK_"`
	Discord  ProviderCredentials `envPrefix:"DISCORD_"`

	SMTP SMTPConfig `envPrefix:"SMTP_"`

	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
}

// Load reads configuration from environment variables and validates required fields.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	switch c.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported ALGORITHM %q", c.Algorithm)
	}
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	return nil
}
