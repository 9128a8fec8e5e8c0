package app

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, loaded from the environment.
type Config struct {
	Env       string `env:"ENV" envDefault:"dev"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	Port                int           `env:"PORT" envDefault:"8080"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	DatabaseFile string `env:"DATABASE_FILE" envDefault:"authgate.db"`

	// Upstream identity provider. Issuer is what the provider puts in its
	// access tokens, normally BaseURL + "/realms/" + Realm.
	IdPBaseURL       string `env:"IDP_BASE_URL,notEmpty"`
	IdPRealm         string `env:"IDP_REALM,notEmpty"`
	IdPClientID      string `env:"IDP_CLIENT_ID,notEmpty"`
	IdPClientSecret  string `env:"IDP_CLIENT_SECRET"`
	IdPAdminUser     string `env:"IDP_ADMIN_USER,notEmpty"`
	IdPAdminPassword string `env:"IDP_ADMIN_PASSWORD,notEmpty"`
	Issuer           string `env:"IDP_ISSUER"`

	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
	InviteTTL  time.Duration `env:"INVITE_TTL" envDefault:"168h"`

	KeysSoftTTL time.Duration `env:"KEYS_SOFT_TTL" envDefault:"1h"`
	KeysHardTTL time.Duration `env:"KEYS_HARD_TTL" envDefault:"24h"`

	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"true"`

	HousekeepingInterval time.Duration `env:"HOUSEKEEPING_INTERVAL" envDefault:"1h"`
}

// LoadConfig parses the environment and fills in derived defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Issuer == "" {
		cfg.Issuer = fmt.Sprintf("%s/realms/%s", cfg.IdPBaseURL, cfg.IdPRealm)
	}

	return cfg, nil
}
