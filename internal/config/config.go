// Package config holds the service settings read from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type Config struct {
	Addr     string `env:"HTTP_ADDR" envDefault:"0.0.0.0:8431"`
	BasePath string `env:"HTTP_BASE_PATH" envDefault:"/api/auth"`

	AccessSecret  string        `env:"JWT_SECRET,required,notEmpty"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET,required,notEmpty"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"pitchfork-auth"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`

	CookieName   string `env:"SESSION_COOKIE_NAME" envDefault:"session"`
	CookieSecure bool   `env:"SESSION_COOKIE_SECURE" envDefault:"true"`

	MaxFailedAttempts int           `env:"LOCKOUT_MAX_FAILED" envDefault:"5"`
	LockDuration      time.Duration `env:"LOCKOUT_DURATION" envDefault:"30m"`
	BcryptCost        int           `env:"BCRYPT_COST" envDefault:"12"`

	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimit   router.RateLimitConfig

	Database database.Config
	Log      utilities.Config
}

// Load reads the whole configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return Config{}, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if cfg.MaxFailedAttempts < 1 {
		return Config{}, fmt.Errorf("LOCKOUT_MAX_FAILED must be positive")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
		if cfg.Log.Dev {
			cfg.Log.Level = "debug"
		}
	}
	return cfg, nil
}
