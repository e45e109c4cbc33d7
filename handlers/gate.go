package handlers

import (
	"context"
	"errors"
	"fmt"

	"tg-moderation-bot/messages"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tgctx"
)

// ErrAuthorityDenied ends a handler whose acting user is not an admin.
var ErrAuthorityDenied = errors.New("handlers: authority denied")

// AdminGate answers administrator questions about a chat.
type AdminGate interface {
	IsAdmin(ctx context.Context, chat tgctx.Chat, userID int64) (bool, error)
	Admins(ctx context.Context, chatID int64) ([]telegram.Member, error)
}

// ReportThrottle bounds how often one user may call the admins.
type ReportThrottle interface {
	AllowReport(ctx context.Context, chatID, userID int64) (bool, error)
}

type denyMode int

const (
	// denyNotice answers a non-admin with a short refusal.
	denyNotice denyMode = iota
	// denyReport also alerts every human admin privately.
	denyReport
	// denySilent does nothing visible.
	denySilent
)

// gate composes an AdminGate with a Notifier for handlers that are
// admin-only.
type gate struct {
	admins AdminGate
	notify Notifier
}

// require returns nil when the acting user is an admin of the request's
// chat. Otherwise it handles the denial per mode and returns
// ErrAuthorityDenied. Denials write nothing to the store.
func (g *gate) require(ctx context.Context, req *Request, mode denyMode) error {
	ok, err := g.admins.IsAdmin(ctx, req.Update.Chat, req.Update.From.ID)
	if err != nil {
		return fmt.Errorf("admin check: %w", err)
	}
	if ok {
		return nil
	}
	switch mode {
	case denyNotice:
		if _, err := g.notify.Reply(ctx, req, g.notify.Render(req, "not_admin", nil)); err != nil {
			req.Log.Warn("handlers: send refusal", "error", err)
		}
	case denyReport:
		g.report(ctx, req)
	}
	return ErrAuthorityDenied
}

func (g *gate) report(ctx context.Context, req *Request) {
	user := req.Update.From.Mention()
	params := messages.Params{"user": user, "command": req.Route.Name}
	if _, err := g.notify.Reply(ctx, req, g.notify.Render(req, "not_authorized", params)); err != nil {
		req.Log.Warn("handlers: send refusal", "error", err)
	}
	admins, err := g.admins.Admins(ctx, req.Update.Chat.ID)
	if err != nil {
		req.Log.Warn("handlers: list admins for alert", "error", err)
		return
	}
	params["chat"] = htmlSafe(req.Update.Chat.Title)
	for _, a := range admins {
		if a.IsBot {
			continue
		}
		// Admins who never started the bot cannot be messaged.
		if err := g.notify.Direct(ctx, a.ID, g.notify.Render(nil, "unauthorized_alert", params)); err != nil {
			req.Log.Debug("handlers: alert admin", "admin_id", a.ID, "error", err)
		}
	}
}

// isAdmin checks a target user rather than the acting one.
func (g *gate) isAdmin(ctx context.Context, req *Request, userID int64) (bool, error) {
	return g.admins.IsAdmin(ctx, req.Update.Chat, userID)
}
