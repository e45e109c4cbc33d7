// Package config loads process configuration from the environment, an
// optional .env file and an optional config.yml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	MinSweepInterval  = time.Second
	MaxSweepInterval  = 5 * time.Second
	MaxAdminCacheTTL  = 5 * time.Minute
	fallbackWarnLimit = 3
)

type Config struct {
	BotToken      string `mapstructure:"BOT_TOKEN"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	OwnerID       int64  `mapstructure:"OWNER_ID"`
	LogChannelID  int64  `mapstructure:"LOG_CHANNEL_ID"`
	WebhookURL    string `mapstructure:"WEBHOOK_URL"`
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
	ListenAddr    string `mapstructure:"LISTEN_ADDR"`
	DefaultLocale string `mapstructure:"DEFAULT_LOCALE"`

	WarnLimit          int           `mapstructure:"WARN_LIMIT"`
	CaptchaTimeout     time.Duration `mapstructure:"CAPTCHA_TIMEOUT"`
	AdminCacheTTL      time.Duration `mapstructure:"ADMIN_CACHE_TTL"`
	ReportWindow       time.Duration `mapstructure:"REPORT_WINDOW"`
	SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
	ServiceMessageTTL  time.Duration `mapstructure:"SERVICE_MESSAGE_TTL"`
	AdaShieldThreshold int           `mapstructure:"ADASHIELD_THRESHOLD"`

	LogLevel string `mapstructure:"LOG_LEVEL"`
	Env      string `mapstructure:"APP_ENV"`
}

// Load reads .env when present, then the environment and config.yml.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config: .env not loaded", "error", err)
	}
	v := viper.New()
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	// Файла может не быть: всё задаётся и через env.
	_ = v.ReadInConfig()

	v.SetDefault("BOT_TOKEN", "")
	v.SetDefault("DATABASE_URL", "memory://")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("OWNER_ID", 0)
	v.SetDefault("LOG_CHANNEL_ID", 0)
	v.SetDefault("WEBHOOK_URL", "")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("DEFAULT_LOCALE", "en")
	v.SetDefault("WARN_LIMIT", fallbackWarnLimit)
	v.SetDefault("CAPTCHA_TIMEOUT", "5m")
	v.SetDefault("ADMIN_CACHE_TTL", "5m")
	v.SetDefault("REPORT_WINDOW", "1m")
	v.SetDefault("SWEEP_INTERVAL", "2s")
	v.SetDefault("SERVICE_MESSAGE_TTL", "1m")
	v.SetDefault("ADASHIELD_THRESHOLD", 3)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("APP_ENV", "development")

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (c *Config) normalize() {
	c.WebhookURL = strings.TrimRight(strings.TrimSpace(c.WebhookURL), "/")
	c.DefaultLocale = strings.ToLower(strings.TrimSpace(c.DefaultLocale))
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
	if c.WarnLimit <= 0 {
		c.WarnLimit = fallbackWarnLimit
	}
	switch {
	case c.SweepInterval < MinSweepInterval:
		c.SweepInterval = MinSweepInterval
	case c.SweepInterval > MaxSweepInterval:
		c.SweepInterval = MaxSweepInterval
	}
	if c.AdminCacheTTL <= 0 || c.AdminCacheTTL > MaxAdminCacheTTL {
		c.AdminCacheTTL = MaxAdminCacheTTL
	}
	if c.CaptchaTimeout <= 0 {
		c.CaptchaTimeout = 5 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		return errors.New("WEBHOOK_SECRET is required when WEBHOOK_URL is set")
	}
	if c.AdaShieldThreshold < 0 {
		return errors.New("ADASHIELD_THRESHOLD must not be negative")
	}
	return nil
}

// UseWebhook: вебхук вместо long polling.
func (c *Config) UseWebhook() bool { return c.WebhookURL != "" }

func (c *Config) IsDevelopment() bool { return c.Env == "" || c.Env == "development" }

// MemoryStore reports whether DatabaseURL selects the in-process store.
func (c *Config) MemoryStore() bool { return strings.HasPrefix(c.DatabaseURL, "memory://") }

func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
