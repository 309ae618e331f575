package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	defaultKIEBaseURL = "https://api.kie.ai"
)

// Config aggregates runtime configuration for the API server and its collaborators.
type Config struct {
	HTTPListenAddr string `envconfig:"HTTP_LISTEN_ADDR" default:":8080"`
	PublicBaseURL  string `envconfig:"PUBLIC_BASE_URL"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"mysql"`
	MySQLDSN      string `envconfig:"MYSQL_DSN"`

	JWTSecret string `envconfig:"JWT_SECRET"`

	KIEAPIKey             string `envconfig:"KIE_API_KEY"`
	KIEBaseURL            string `envconfig:"KIE_BASE_URL" default:"https://api.kie.ai"`
	ReplicateAPIToken     string `envconfig:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL      string `envconfig:"REPLICATE_BASE_URL" default:"https://api.replicate.com"`
	RequestTimeoutSeconds int    `envconfig:"HTTP_TIMEOUT_SECONDS" default:"60"`

	FreeDailyCredits int    `envconfig:"FREE_DAILY_CREDITS" default:"30"`
	PricingFile      string `envconfig:"PRICING_FILE"`

	WebhookSigningSecret string `envconfig:"WEBHOOK_SIGNING_SECRET"`
	BillingWebhookSecret string `envconfig:"BILLING_WEBHOOK_SECRET"`

	AdminUsername string `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	S3Endpoint      string `envconfig:"S3_ENDPOINT"`
	S3Region        string `envconfig:"S3_REGION"`
	S3AccessKey     string `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string `envconfig:"S3_SECRET_KEY"`
	S3Bucket        string `envconfig:"S3_BUCKET"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`
	S3UsePathStyle  bool   `envconfig:"S3_USE_PATH_STYLE" default:"false"`
	S3Prefix        string `envconfig:"S3_PREFIX" default:"references"`

	TelegramBotToken    string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAlertChatID int64  `envconfig:"TELEGRAM_ALERT_CHAT_ID"`

	SubmitRatePerMinute int    `envconfig:"SUBMIT_RATE_PER_MINUTE" default:"10"`
	SubmitBurst         int    `envconfig:"SUBMIT_BURST" default:"3"`
	RedisURL            string `envconfig:"REDIS_URL"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`
}

func (c Config) RequestTimeout() time.Duration {
	return time.Second * time.Duration(c.RequestTimeoutSeconds)
}

// UploadsEnabled reports whether reference image uploads are configured.
func (c Config) UploadsEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from the environment after applying the first .env
// file found. Every missing variable is reported at once.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.KIEBaseURL = normalizeKIEBaseURL(cfg.KIEBaseURL, defaultKIEBaseURL)
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AuthConfig is the subset of settings needed to mint bearer tokens.
type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET" required:"true"`
}

func LoadAuth() (AuthConfig, error) {
	if err := loadEnvFile(); err != nil {
		return AuthConfig{}, err
	}
	var cfg AuthConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AuthConfig{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	if c.PublicBaseURL == "" {
		missing = append(missing, "PUBLIC_BASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.KIEAPIKey == "" && c.ReplicateAPIToken == "" {
		missing = append(missing, "KIE_API_KEY or REPLICATE_API_TOKEN")
	}
	switch c.StorageDriver {
	case StorageMySQL:
		if c.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.S3Bucket != "" {
		if c.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if c.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if c.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if c.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if c.TelegramBotToken != "" && c.TelegramAlertChatID == 0 {
		missing = append(missing, "TELEGRAM_ALERT_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}

	if u, err := url.Parse(c.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("PUBLIC_BASE_URL must be an absolute URL, got %q", c.PublicBaseURL)
	}
	if c.FreeDailyCredits < 0 {
		return fmt.Errorf("FREE_DAILY_CREDITS must not be negative")
	}
	if c.SubmitRatePerMinute <= 0 || c.SubmitBurst <= 0 {
		return fmt.Errorf("SUBMIT_RATE_PER_MINUTE and SUBMIT_BURST must be positive")
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. Some docs and UI pages
// use the root kie.ai domain, which returns HTML instead of JSON and causes 404s.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

// loadEnvFile applies the first env file found. Running without one is fine:
// containers usually pass the environment directly.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
