package handlers

import (
	"context"
	"time"

	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tglog"
)

// moderationFeature is ban, unban and kick.
type moderationFeature struct {
	repos  *database.Repositories
	api    telegram.API
	gate   *gate
	notify Notifier
	audit  *tglog.Logger
	opts   Options
}

func (f *moderationFeature) register(r *Router) error {
	if err := r.Command(f.ban, "ban"); err != nil {
		return err
	}
	if err := r.Command(f.unban, "unban"); err != nil {
		return err
	}
	return r.Command(f.kick, "kick")
}

// prelude is the shared opening of every moderation command: group only,
// admin only with the unauthorized report, then target resolution.
func prelude(ctx context.Context, repos *database.Repositories, g *gate, n Notifier, req *Request) ([]target, string, bool, error) {
	if !req.Update.Chat.IsGroup() {
		_, err := n.Notice(ctx, req, n.Render(req, "group_only", nil))
		return nil, "", false, err
	}
	if err := g.require(ctx, req, denyReport); err != nil {
		return nil, "", false, err
	}
	targets, rest, err := resolveTargets(ctx, repos, req)
	if err != nil {
		return nil, "", false, err
	}
	if len(targets) == 0 {
		_, err := n.Notice(ctx, req, n.Render(req, "no_target", nil))
		return nil, "", false, err
	}
	return targets, rest, true, nil
}

// untouchable reports whether id is the bot itself or its owner.
func (o Options) untouchable(id int64) bool {
	return id == o.BotID || (o.OwnerID != 0 && id == o.OwnerID)
}

// protected reports whether t must not be acted on, telling the chat why.
func (f *moderationFeature) protected(ctx context.Context, req *Request, t target) (bool, error) {
	if f.opts.untouchable(t.ExternalID) {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "target.admin", messages.Params{"user": t.Mention()}))
		return true, err
	}
	admin, err := f.gate.isAdmin(ctx, req, t.ExternalID)
	if err != nil {
		return true, err
	}
	if admin {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "target.admin", messages.Params{"user": t.Mention()}))
		return true, err
	}
	return false, nil
}

func (f *moderationFeature) ban(ctx context.Context, req *Request) error {
	targets, reason, ok, err := prelude(ctx, f.repos, f.gate, f.notify, req)
	if !ok {
		return err
	}
	for _, t := range targets {
		if skip, err := f.protected(ctx, req, t); skip {
			if err != nil {
				return err
			}
			continue
		}
		if err := banTarget(ctx, f.repos, f.api, f.notify, f.audit, req, t, reason); err != nil {
			return err
		}
	}
	return nil
}

// banTarget bans t remotely and, only on success, appends the audit row
// and announces it. A remote failure is reported to the chat.
func banTarget(ctx context.Context, repos *database.Repositories, api telegram.API, n Notifier, audit *tglog.Logger, req *Request, t target, reason string) error {
	if err := api.Ban(ctx, req.Update.Chat.ID, t.ExternalID, time.Time{}); err != nil {
		remoteFailed(ctx, n, req, err)
		return nil
	}
	if _, err := repos.Bans.Add(ctx, database.Ban{UserID: t.ID, ChatID: req.Chat.ID, Reason: reason}); err != nil {
		return err
	}
	text := n.Render(req, "ban.done", messages.Params{"user": t.Mention()})
	if reason != "" {
		text += "\n" + n.Render(req, "ban.reason", messages.Params{"reason": htmlSafe(reason)})
	}
	if _, err := n.Reply(ctx, req, text); err != nil {
		req.Log.Warn("handlers: announce ban", "error", err)
	}
	audit.Send("#BAN %s in %s by %s\n%s", t.Mention(), htmlSafe(req.Update.Chat.Title), req.Update.From.Mention(), htmlSafe(reason))
	return nil
}

func (f *moderationFeature) unban(ctx context.Context, req *Request) error {
	targets, _, ok, err := prelude(ctx, f.repos, f.gate, f.notify, req)
	if !ok {
		return err
	}
	for _, t := range targets {
		if err := f.api.Unban(ctx, req.Update.Chat.ID, t.ExternalID, true); err != nil {
			remoteFailed(ctx, f.notify, req, err)
			continue
		}
		if _, err := f.notify.Reply(ctx, req, f.notify.Render(req, "unban.done", messages.Params{"user": t.Mention()})); err != nil {
			req.Log.Warn("handlers: announce unban", "error", err)
		}
		f.audit.Send("#UNBAN %s in %s by %s", t.Mention(), htmlSafe(req.Update.Chat.Title), req.Update.From.Mention())
	}
	return nil
}

// kick removes the member without blocking a rejoin: an unban that applies
// even to members who are not banned.
func (f *moderationFeature) kick(ctx context.Context, req *Request) error {
	targets, _, ok, err := prelude(ctx, f.repos, f.gate, f.notify, req)
	if !ok {
		return err
	}
	for _, t := range targets {
		if skip, err := f.protected(ctx, req, t); skip {
			if err != nil {
				return err
			}
			continue
		}
		if err := f.api.Unban(ctx, req.Update.Chat.ID, t.ExternalID, false); err != nil {
			remoteFailed(ctx, f.notify, req, err)
			continue
		}
		if _, err := f.repos.Relations.Leave(ctx, t.ID, req.Chat.ID); err != nil {
			return err
		}
		if _, err := f.notify.Reply(ctx, req, f.notify.Render(req, "kick.done", messages.Params{"user": t.Mention()})); err != nil {
			req.Log.Warn("handlers: announce kick", "error", err)
		}
		f.audit.Send("#KICK %s in %s by %s", t.Mention(), htmlSafe(req.Update.Chat.Title), req.Update.From.Mention())
	}
	return nil
}
