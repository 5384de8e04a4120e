package config

import (
	"fmt"
	"os"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	Environment string `env:"environment,default=development"`
	HTTPAddr    string `env:"HTTP_ADDR,default=localhost:3000"`
	BaseURL     string `env:"APP_BASE_URL,default=http://localhost:3000"`

	DBConnectionString string `env:"DB_CONNECTION_STRING,required"`
	JWTSecret          string `env:"JWT_SECRET,required"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	CloudinaryCloudName string `env:"CLOUDINARY_CLOUD_NAME"`
	CloudinaryAPIKey    string `env:"CLOUDINARY_API_KEY"`
	CloudinaryAPISecret string `env:"CLOUDINARY_API_SECRET"`

	StripeSecretKey      string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	StripeMonthlyPriceId string `env:"STRIPE_MONTHLY_PRICE_ID"`

	DefaultCommunity          string `env:"DEFAULT_COMMUNITY,default=OpenTrellis"`
	GeneralForum              string `env:"GENERAL_FORUM,default=general-forum"`
	MentorApplicationAttempts int    `env:"MENTOR_APPLICATION_ATTEMPTS,default=2"`

	RateLimitRPS      float64 `env:"RATE_LIMIT_RPS,default=2"`
	RateLimitBurst    int     `env:"RATE_LIMIT_BURST,default=5"`
	ReconcileSchedule string  `env:"RECONCILE_SCHEDULE,default=@every 1h"`
}

// LoadEnv reads config/.env for local runs. CI and production provide the
// environment directly.
func LoadEnv(path string) error {
	if os.Getenv("CI") == "true" {
		return nil
	}
	if os.Getenv("environment") == "production" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: fail to load %s: %w", path, err)
	}
	return nil
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: fail to decode environment: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) IsProduction() bool {
	return cfg.Environment == "production"
}

// AuthChecks reports which pieces of auth and billing configuration are present
// without exposing their values.
func (cfg *Config) AuthChecks() map[string]any {
	return map[string]any{
		"jwtSecret":           cfg.JWTSecret != "",
		"databaseUrl":         cfg.DBConnectionString != "",
		"stripeSecretKey":     cfg.StripeSecretKey != "",
		"stripeWebhookSecret": cfg.StripeWebhookSecret != "",
		"stripePriceId":       cfg.StripeMonthlyPriceId != "",
		"cloudinary":          cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "",
		"redis":               cfg.RedisAddr != "",
		"baseUrl":             cfg.BaseURL,
		"environment":         cfg.Environment,
	}
}
