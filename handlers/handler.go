// Package handlers is the update pipeline: it resolves each update, makes
// sure the chat and user rows exist, routes it and runs the moderation
// handlers.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"tg-moderation-bot/authority"
	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/metrics"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tglog"
	"tg-moderation-bot/tgctx"
)

// Options are the process-level settings the handlers consult.
type Options struct {
	BotID              int64
	BotUsername        string
	OwnerID            int64
	DefaultLocale      string
	CaptchaTimeout     time.Duration
	ServiceMessageTTL  time.Duration
	AdaShieldThreshold int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Request is one update on its way through a handler.
type Request struct {
	Update *tgctx.Context
	// Chat and User are the stored rows of the update's chat and acting user.
	Chat  *database.Chat
	User  *database.User
	Route Route
	Log   *slog.Logger
}

// Locale is the acting user's language, if known.
func (r *Request) Locale() string {
	if r.User != nil && r.User.LanguageCode != "" {
		return r.User.LanguageCode
	}
	return r.Update.Locale()
}

// MessageID is the id of the triggering message, or 0.
func (r *Request) MessageID() int {
	if r.Update.Message == nil {
		return 0
	}
	return r.Update.Message.ID
}

type Handler struct {
	repos  *database.Repositories
	api    telegram.API
	router *Router
	opts   Options
}

// New builds the pipeline and registers every command, callback and
// passive action. Registration errors are programming errors.
func New(repos *database.Repositories, api telegram.API, auth *authority.Authority, catalog *messages.Catalog, audit *tglog.Logger, opts Options) (*Handler, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CaptchaTimeout <= 0 {
		opts.CaptchaTimeout = 5 * time.Minute
	}
	if opts.ServiceMessageTTL <= 0 {
		opts.ServiceMessageTTL = time.Minute
	}
	notify := &chatNotifier{
		api:      api,
		catalog:  catalog,
		messages: repos.Messages,
		locale:   opts.DefaultLocale,
		ttl:      opts.ServiceMessageTTL,
		now:      opts.Now,
	}
	g := &gate{admins: auth, notify: notify}
	h := &Handler{repos: repos, api: api, router: NewRouter(opts.BotUsername), opts: opts}

	features := []interface{ register(*Router) error }{
		&moderationFeature{repos: repos, api: api, gate: g, notify: notify, audit: audit, opts: opts},
		&warningsFeature{repos: repos, api: api, gate: g, notify: notify, audit: audit, opts: opts},
		&settingsFeature{repos: repos, gate: g, notify: notify},
		&rulesFeature{repos: repos, gate: g, notify: notify},
		&federationFeature{repos: repos, api: api, gate: g, notify: notify, audit: audit, opts: opts},
		&membersFeature{repos: repos, api: api, admins: auth, notify: notify, audit: audit, opts: opts},
		&chatterFeature{admins: auth, throttle: auth, notify: notify, opts: opts},
	}
	for _, f := range features {
		if err := f.register(h.router); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// Router exposes the registered routes.
func (h *Handler) Router() *Router { return h.router }

// OnUpdate adapts HandleUpdate to the go-telegram/bot handler signature.
func (h *Handler) OnUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	h.HandleUpdate(ctx, update)
}

// HandleUpdate runs one update to completion. It never panics and never
// returns an error: every failure ends as a log line.
func (h *Handler) HandleUpdate(ctx context.Context, update *models.Update) {
	log := slog.With("correlation_id", uuid.NewString())
	if update != nil {
		log = log.With("update_id", update.ID)
	}
	defer func() {
		if p := recover(); p != nil {
			metrics.HandlerFailures.WithLabelValues("pipeline").Inc()
			log.Error("handlers: panic in pipeline", "panic", p, "stack", string(debug.Stack()))
		}
	}()

	c, err := tgctx.Resolve(update)
	if err != nil {
		metrics.UnrecognizedUpdates.Inc()
		log.Warn("handlers: update dropped", "error", err)
		return
	}
	metrics.UpdatesTotal.WithLabelValues(string(c.Kind)).Inc()
	log = log.With("chat_id", c.Chat.ID, "user_id", c.From.ID, "kind", c.Kind)

	req, err := h.prepare(ctx, c, log)
	if err != nil {
		log.Error("handlers: prepare entities", "error", err)
		return
	}
	req.Route = h.router.Classify(c)
	h.dispatch(ctx, req)
}

// prepare ensures the chat row with its configuration, the acting user and,
// for ordinary group messages, the membership row.
func (h *Handler) prepare(ctx context.Context, c *tgctx.Context, log *slog.Logger) (*Request, error) {
	req := &Request{Update: c, Log: log}

	chat, err := h.repos.Chats.Ensure(ctx, database.Chat{ExternalID: c.Chat.ID, Title: c.Chat.Title, Type: c.Chat.Type})
	if err != nil {
		return nil, fmt.Errorf("ensure chat: %w", err)
	}
	req.Chat = chat

	if c.From.ID == 0 {
		return req, nil
	}
	user, err := h.repos.Users.Ensure(ctx, userSeed(c.From))
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	req.User = user

	ordinary := c.Kind == tgctx.KindMessage || c.Kind == tgctx.KindEditedMessage
	if ordinary && c.Chat.IsGroup() && !c.From.IsChannel && len(c.NewMembers) == 0 && c.LeftMember == nil {
		if _, err := h.repos.Relations.Ensure(ctx, user.ID, chat.ID, true); err != nil {
			return nil, fmt.Errorf("ensure relation: %w", err)
		}
	}
	return req, nil
}

func (h *Handler) dispatch(ctx context.Context, req *Request) {
	for _, nh := range h.router.handlers(req.Route, req) {
		h.invoke(ctx, nh, req)
	}
}

// invoke isolates one handler: its error or panic is logged and counted,
// and the next handler still runs.
func (h *Handler) invoke(ctx context.Context, nh namedHandler, req *Request) {
	defer func() {
		if p := recover(); p != nil {
			metrics.HandlerFailures.WithLabelValues(nh.name).Inc()
			req.Log.Error("handlers: panic in handler", "route", nh.name, "panic", p, "stack", string(debug.Stack()))
		}
	}()
	metrics.HandledTotal.WithLabelValues(nh.name).Inc()
	err := nh.fn(ctx, req)
	switch {
	case err == nil:
	case errors.Is(err, ErrAuthorityDenied):
		req.Log.Debug("handlers: denied", "route", nh.name)
	default:
		metrics.HandlerFailures.WithLabelValues(nh.name).Inc()
		req.Log.Error("handlers: handler failed", "route", nh.name, "error", err)
	}
}

func userSeed(u tgctx.User) database.User {
	return database.User{
		ExternalID:   u.ID,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Username:     u.Username,
		LanguageCode: u.LanguageCode,
		IsBot:        u.IsBot,
		IsChannel:    u.IsChannel,
		IsPremium:    u.IsPremium,
	}
}
