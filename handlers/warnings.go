package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/store"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tglog"
)

// BanReasonWarnings is the audit reason of a ban caused by the warn limit.
const BanReasonWarnings = "warnings"

type warningsFeature struct {
	repos  *database.Repositories
	api    telegram.API
	gate   *gate
	notify Notifier
	audit  *tglog.Logger
	opts   Options
}

func (f *warningsFeature) register(r *Router) error {
	if err := r.Command(f.warnCommand, "warn", "delwarn"); err != nil {
		return err
	}
	if err := r.Command(f.warnings, "warnings"); err != nil {
		return err
	}
	if err := r.Command(f.warnLimit, "warnlimit"); err != nil {
		return err
	}
	return r.Callback("unwarn", f.unwarn)
}

func (f *warningsFeature) warnCommand(ctx context.Context, req *Request) error {
	if req.Route.Name == "delwarn" {
		return f.delwarn(ctx, req)
	}
	return f.warn(ctx, req)
}

func (f *warningsFeature) warn(ctx context.Context, req *Request) error {
	targets, reason, ok, err := prelude(ctx, f.repos, f.gate, f.notify, req)
	if !ok {
		return err
	}
	deleted := false
	for _, t := range targets {
		if t.ExternalID == f.opts.BotID || (f.opts.OwnerID != 0 && t.ExternalID == f.opts.OwnerID) {
			if _, err := f.notify.Notice(ctx, req, f.notify.Render(req, "warn.self", nil)); err != nil {
				return err
			}
			continue
		}
		admin, err := f.gate.isAdmin(ctx, req, t.ExternalID)
		if err != nil {
			return err
		}
		if admin {
			if _, err := f.notify.Notice(ctx, req, f.notify.Render(req, "warn.admin", messages.Params{"user": t.Mention()})); err != nil {
				return err
			}
			continue
		}

		if !deleted {
			deleted = true
			if err := f.api.Delete(ctx, req.Update.Chat.ID, req.MessageID()); err != nil {
				req.Log.Warn("handlers: delete warn command", "error", err)
			}
		}
		if err := f.warnTarget(ctx, req, t, reason); err != nil {
			return err
		}
	}
	return nil
}

// warnTarget records one warning and bans once the active count reaches
// the chat's limit.
func (f *warningsFeature) warnTarget(ctx context.Context, req *Request, t target, reason string) error {
	id, err := f.repos.Warnings.Add(ctx, t.ID, req.Chat.ID, reason)
	if err != nil {
		return err
	}
	count, err := f.repos.Warnings.CountActive(ctx, t.ID, req.Chat.ID)
	if err != nil {
		return err
	}
	limit := int64(req.Chat.Config.WarnLimit)
	if limit <= 0 {
		limit = database.DefaultWarnLimit
	}

	if count < limit {
		if reason == "" {
			reason = database.DefaultWarnReason
		}
		text := f.notify.Render(req, "warn.done", messages.Params{
			"user":   t.Mention(),
			"count":  count,
			"limit":  limit,
			"reason": htmlSafe(reason),
		})
		button := telegram.Button{Text: f.notify.Render(req, "warn.button", nil), Data: fmt.Sprintf("unwarn:%d", id)}
		_, err := f.notify.Post(ctx, req, text, []telegram.Button{button})
		return err
	}

	if err := f.api.Ban(ctx, req.Update.Chat.ID, t.ExternalID, time.Time{}); err != nil {
		remoteFailed(ctx, f.notify, req, err)
		return nil
	}
	if _, err := f.repos.Bans.Add(ctx, database.Ban{UserID: t.ID, ChatID: req.Chat.ID, Reason: BanReasonWarnings}); err != nil {
		return err
	}
	f.audit.Send("#AUTOBAN %s in %s after %d warnings", t.Mention(), htmlSafe(req.Update.Chat.Title), count)
	_, err = f.notify.Post(ctx, req, f.notify.Render(req, "warn.banned", messages.Params{"user": t.Mention(), "limit": limit}))
	return err
}

// delwarn removes every active warning of the targets, or with the "last"
// argument only the most recent one.
func (f *warningsFeature) delwarn(ctx context.Context, req *Request) error {
	targets, rest, ok, err := prelude(ctx, f.repos, f.gate, f.notify, req)
	if !ok {
		return err
	}
	onlyLast := strings.EqualFold(strings.TrimSpace(rest), "last")
	for _, t := range targets {
		var id *int64
		if onlyLast {
			w, err := f.repos.Warnings.Last(ctx, t.ID, req.Chat.ID)
			if errors.Is(err, database.ErrNotFound) {
				if _, err := f.notify.Notice(ctx, req, f.notify.Render(req, "delwarn.none", messages.Params{"user": t.Mention()})); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			id = &w.ID
		}
		n, err := f.repos.Warnings.Remove(ctx, t.ID, req.Chat.ID, id)
		if err != nil {
			return err
		}
		key := "delwarn.all"
		switch {
		case n == 0:
			key = "delwarn.none"
		case onlyLast:
			key = "delwarn.last"
		}
		if _, err := f.notify.Notice(ctx, req, f.notify.Render(req, key, messages.Params{"user": t.Mention(), "count": n})); err != nil {
			return err
		}
	}
	return nil
}

// unwarn is the button under a warning notice: it removes that warning.
func (f *warningsFeature) unwarn(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	if err := f.gate.require(ctx, req, denySilent); err != nil {
		if errors.Is(err, ErrAuthorityDenied) {
			if aerr := f.api.AnswerCallback(ctx, cb.ID, f.notify.Render(req, "not_admin", nil)); aerr != nil {
				req.Log.Warn("handlers: answer callback", "error", aerr)
			}
		}
		return err
	}
	id, err := strconv.ParseInt(req.Route.Args, 10, 64)
	if err != nil {
		return f.api.AnswerCallback(ctx, cb.ID, "")
	}
	w, err := f.repos.Warnings.Get(ctx, id)
	if errors.Is(err, database.ErrNotFound) || (err == nil && (w.ChatID != req.Chat.ID || !w.Active)) {
		return f.api.AnswerCallback(ctx, cb.ID, "")
	}
	if err != nil {
		return err
	}
	if _, err := f.repos.Warnings.Remove(ctx, w.UserID, w.ChatID, &w.ID); err != nil {
		return err
	}
	text := f.notify.Render(req, "unwarn.done", messages.Params{"admin": req.Update.From.Mention()})
	if err := f.api.AnswerCallback(ctx, cb.ID, ""); err != nil {
		req.Log.Warn("handlers: answer callback", "error", err)
	}
	if cb.MessageID != 0 {
		if err := f.api.Delete(ctx, req.Update.Chat.ID, cb.MessageID); err != nil {
			req.Log.Warn("handlers: delete warning notice", "error", err)
		}
	}
	_, err = f.notify.Notice(ctx, req, text)
	return err
}

// warnings shows the active warnings of the targets, or of the caller.
func (f *warningsFeature) warnings(ctx context.Context, req *Request) error {
	if !req.Update.Chat.IsGroup() {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "group_only", nil))
		return err
	}
	targets, _, err := resolveTargets(ctx, f.repos, req)
	if err != nil {
		return err
	}
	if len(targets) == 0 && req.User != nil {
		targets = []target{{req.User}}
	}
	limit := req.Chat.Config.WarnLimit
	for _, t := range targets {
		list, err := f.repos.Warnings.ListActive(ctx, t.ID, req.Chat.ID)
		if err != nil {
			return err
		}
		var b strings.Builder
		b.WriteString(f.notify.Render(req, "warnings.list", messages.Params{"user": t.Mention(), "count": len(list), "limit": limit}))
		for _, w := range list {
			b.WriteString("\n")
			b.WriteString(f.notify.Render(req, "warnings.item", messages.Params{"reason": htmlSafe(w.Reason)}))
		}
		if _, err := f.notify.Notice(ctx, req, b.String()); err != nil {
			return err
		}
	}
	return nil
}

// warnLimit shows the limit, or sets it when given a positive number.
func (f *warningsFeature) warnLimit(ctx context.Context, req *Request) error {
	if !req.Update.Chat.IsGroup() {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "group_only", nil))
		return err
	}
	if err := f.gate.require(ctx, req, denyNotice); err != nil {
		return err
	}
	args := strings.TrimSpace(req.Route.Args)
	if args == "" {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "warnlimit.status", messages.Params{"limit": req.Chat.Config.WarnLimit}))
		return err
	}
	limit, err := strconv.Atoi(args)
	if err != nil || limit <= 0 {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "warnlimit.invalid", nil))
		return err
	}
	n, err := f.repos.Chats.UpdateConfig(ctx, req.Update.Chat.ID, store.Row{database.ConfigWarnLimit: int64(limit)})
	if err != nil || n == 0 {
		return err
	}
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, "warnlimit.status", messages.Params{"limit": limit}))
	return err
}
