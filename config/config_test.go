package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")

	c, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "memory://", c.DatabaseURL)
	assert.True(t, c.MemoryStore())
	assert.Equal(t, ":8080", c.ListenAddr)
	assert.Equal(t, 3, c.WarnLimit)
	assert.Equal(t, 5*time.Minute, c.CaptchaTimeout)
	assert.Equal(t, 2*time.Second, c.SweepInterval)
	assert.Equal(t, time.Minute, c.ServiceMessageTTL)
	assert.False(t, c.UseWebhook())
	assert.True(t, c.IsDevelopment())
	assert.Equal(t, slog.LevelInfo, c.SlogLevel())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("OWNER_ID", "42")
	t.Setenv("WARN_LIMIT", "5")
	t.Setenv("CAPTCHA_TIMEOUT", "90s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://bot@localhost/bot")

	c, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.OwnerID)
	assert.Equal(t, 5, c.WarnLimit)
	assert.Equal(t, 90*time.Second, c.CaptchaTimeout)
	assert.Equal(t, slog.LevelDebug, c.SlogLevel())
	assert.False(t, c.MemoryStore())
}

func TestLoadClamps(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("ADMIN_CACHE_TTL", "1h")
	t.Setenv("WARN_LIMIT", "0")

	c, err := load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, MaxSweepInterval, c.SweepInterval)
	assert.Equal(t, MaxAdminCacheTTL, c.AdminCacheTTL)
	assert.Equal(t, 3, c.WarnLimit)

	t.Setenv("SWEEP_INTERVAL", "10ms")
	c, err = load(viper.New())
	require.NoError(t, err)
	assert.Equal(t, MinSweepInterval, c.SweepInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing token", Config{}, true},
		{"webhook without secret", Config{BotToken: "t", WebhookURL: "https://bot.example"}, true},
		{"negative threshold", Config{BotToken: "t", AdaShieldThreshold: -1}, true},
		{"polling", Config{BotToken: "t"}, false},
		{"webhook", Config{BotToken: "t", WebhookURL: "https://bot.example", WebhookSecret: "s"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	_, err := load(viper.New())
	assert.Error(t, err)
}
