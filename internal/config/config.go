package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	ProductLookupTTL  time.Duration `envconfig:"PRODUCT_LOOKUP_TTL" default:"30s"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`

	InstallmentDefaultCount int `envconfig:"INSTALLMENT_DEFAULT_COUNT" default:"1"`
	InstallmentMaxCount     int `envconfig:"INSTALLMENT_MAX_COUNT" default:"36"`
	InstallmentFirstDueDays int `envconfig:"INSTALLMENT_FIRST_DUE_DAYS" default:"22"`
	InstallmentSpacingDays  int `envconfig:"INSTALLMENT_SPACING_DAYS" default:"30"`
}

// Load reads configuration from the environment; a .env file is honored for
// local development when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
