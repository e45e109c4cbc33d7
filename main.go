package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg-moderation-bot/authority"
	"tg-moderation-bot/cache"
	"tg-moderation-bot/config"
	"tg-moderation-bot/database"
	"tg-moderation-bot/handlers"
	"tg-moderation-bot/interval"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/server"
	"tg-moderation-bot/store"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tglog"
)

const shutdownTimeout = 10 * time.Second

// allowedUpdates must name chat_member explicitly; Telegram leaves it out
// by default.
var allowedUpdates = bot.AllowedUpdates{
	"message",
	"edited_message",
	"channel_post",
	"callback_query",
	"my_chat_member",
	"chat_member",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("bot stopped")
}

func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.IsDevelopment() {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.MemoryStore() {
		slog.Warn("хранилище в памяти, данные пропадут при перезапуске")
		return store.NewMemory(database.Indexes()...), nil
	}
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.RedisURL == "" {
		slog.Info("REDIS_URL not set, using the in-memory cache")
		return cache.NewMemory(), func() {}, nil
	}
	r, err := cache.NewRedis(ctx, cfg.RedisURL, "modbot:")
	if err != nil {
		return nil, nil, err
	}
	return r, func() {
		if err := r.Close(); err != nil {
			slog.Warn("redis close failed", "error", err)
		}
	}, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := database.Migrate(ctx, st); err != nil {
		return err
	}
	repos := database.New(st, cfg.WarnLimit)

	c, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	catalog, err := messages.Load(cfg.DefaultLocale)
	if err != nil {
		return err
	}

	// Хендлеру нужен бот, боту нужен хендлер.
	var h *handlers.Handler
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, u *models.Update) {
			h.OnUpdate(ctx, b, u)
		}),
		bot.WithAllowedUpdates(allowedUpdates),
	}
	if cfg.UseWebhook() {
		opts = append(opts, bot.WithWebhookSecretToken(cfg.WebhookSecret))
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return err
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		return err
	}
	slog.Info("бот запущен", "username", me.Username, "id", me.ID)

	api := telegram.NewClient(b)
	audit := tglog.New(api, cfg.LogChannelID)
	defer audit.Wait()

	auth := authority.New(api, c, cfg.AdminCacheTTL, cfg.ReportWindow)
	h, err = handlers.New(repos, api, auth, catalog, audit, handlers.Options{
		BotID:              me.ID,
		BotUsername:        me.Username,
		OwnerID:            cfg.OwnerID,
		DefaultLocale:      cfg.DefaultLocale,
		CaptchaTimeout:     cfg.CaptchaTimeout,
		ServiceMessageTTL:  cfg.ServiceMessageTTL,
		AdaShieldThreshold: cfg.AdaShieldThreshold,
	})
	if err != nil {
		return err
	}

	sweep := interval.Options{Period: cfg.SweepInterval}
	for _, s := range []*interval.Sweeper{
		interval.NewRelationSweeper(repos.Relations, api, sweep),
		interval.NewMessageSweeper(repos.Messages, api, sweep),
	} {
		go s.Run(ctx)
	}

	var updates http.Handler
	if cfg.UseWebhook() {
		updates = b.WebhookHandler()
	}
	srv := server.New(server.Config{Secret: cfg.WebhookSecret, Updates: updates, Store: st})
	go func() {
		if err := srv.Listen(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			cancel()
		}
	}()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http server shutdown failed", "error", err)
		}
	}()

	if cfg.UseWebhook() {
		if _, err := b.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:            cfg.WebhookURL + "/webhook/" + cfg.WebhookSecret,
			SecretToken:    cfg.WebhookSecret,
			AllowedUpdates: allowedUpdates,
		}); err != nil {
			return err
		}
		slog.Info("receiving updates by webhook", "addr", cfg.ListenAddr)
		b.StartWebhook(ctx)
		return nil
	}

	if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		slog.Warn("delete webhook failed", "error", err)
	}
	slog.Info("receiving updates by long polling")
	b.Start(ctx)
	return nil
}
