package handlers

import (
	"context"
	"errors"
	"time"

	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tglog"
)

// BanReasonFederation prefixes the audit reason of a federation ban.
const BanReasonFederation = "fban"

type federationFeature struct {
	repos  *database.Repositories
	api    telegram.API
	gate   *gate
	notify Notifier
	audit  *tglog.Logger
	opts   Options
}

func (f *federationFeature) register(r *Router) error {
	for name, fn := range map[string]HandlerFunc{
		"newfed":   f.create,
		"joinfed":  f.join,
		"leavefed": f.leave,
		"fedinfo":  f.info,
		"fban":     f.ban,
	} {
		if err := r.Command(fn, name); err != nil {
			return err
		}
	}
	return nil
}

func (f *federationFeature) groupAdmin(ctx context.Context, req *Request) (bool, error) {
	if !req.Update.Chat.IsGroup() {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "group_only", nil))
		return false, err
	}
	if err := f.gate.require(ctx, req, denyNotice); err != nil {
		return false, err
	}
	return true, nil
}

// create registers a federation owned by the caller. In a group the caller
// must be an admin.
func (f *federationFeature) create(ctx context.Context, req *Request) error {
	if err := f.gate.require(ctx, req, denyNotice); err != nil {
		return err
	}
	if req.User == nil {
		return nil
	}
	fed, err := f.repos.Federations.Create(ctx, req.User.ExternalID, req.Route.Args)
	if err != nil {
		return err
	}
	_, err = f.notify.Reply(ctx, req, f.notify.Render(req, "fed.created", messages.Params{"hash": fed.Hash}))
	return err
}

func (f *federationFeature) join(ctx context.Context, req *Request) error {
	if ok, err := f.groupAdmin(ctx, req); !ok {
		return err
	}
	if req.Route.Args == "" {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "fed.usage", nil))
		return err
	}
	fed, err := f.repos.Federations.GetByHash(ctx, req.Route.Args)
	if errors.Is(err, database.ErrNotFound) {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "fed.not_found", nil))
		return err
	}
	if err != nil {
		return err
	}
	if req.Chat.FederationID != nil {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "fed.already", nil))
		return err
	}
	n, err := f.repos.Chats.JoinFederation(ctx, req.Chat.ID, fed.ID)
	if err != nil {
		return err
	}
	key := "fed.joined"
	if n == 0 {
		key = "fed.already"
	}
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, key, messages.Params{"description": htmlSafe(fed.Description)}))
	return err
}

func (f *federationFeature) leave(ctx context.Context, req *Request) error {
	if ok, err := f.groupAdmin(ctx, req); !ok {
		return err
	}
	if req.Chat.FederationID == nil {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "fed.none", nil))
		return err
	}
	n, err := f.repos.Chats.LeaveFederation(ctx, req.Chat.ID, *req.Chat.FederationID)
	if err != nil {
		return err
	}
	key := "fed.left"
	if n == 0 {
		key = "fed.none"
	}
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, key, nil))
	return err
}

func (f *federationFeature) info(ctx context.Context, req *Request) error {
	if req.Chat.FederationID == nil {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "fed.none", nil))
		return err
	}
	fed, err := f.repos.Federations.GetByID(ctx, *req.Chat.FederationID)
	if errors.Is(err, database.ErrNotFound) {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "fed.not_found", nil))
		return err
	}
	if err != nil {
		return err
	}
	chats, err := f.repos.Chats.ListByFederation(ctx, fed.ID)
	if err != nil {
		return err
	}
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, "fed.info", messages.Params{
		"description": htmlSafe(fed.Description),
		"hash":        fed.Hash,
		"chats":       len(chats),
	}))
	return err
}

// ban bans the targets in every chat of the current chat's federation and
// records one audit row per chat where the remote ban succeeded.
func (f *federationFeature) ban(ctx context.Context, req *Request) error {
	targets, reason, ok, err := prelude(ctx, f.repos, f.gate, f.notify, req)
	if !ok {
		return err
	}
	if req.Chat.FederationID == nil {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "fed.none", nil))
		return err
	}
	fedID := *req.Chat.FederationID
	chats, err := f.repos.Chats.ListByFederation(ctx, fedID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = BanReasonFederation
	}
	for _, t := range targets {
		if f.opts.untouchable(t.ExternalID) {
			if _, err := f.notify.Notice(ctx, req, f.notify.Render(req, "target.admin", messages.Params{"user": t.Mention()})); err != nil {
				return err
			}
			continue
		}
		banned := 0
		for _, c := range chats {
			if err := f.api.Ban(ctx, c.ExternalID, t.ExternalID, time.Time{}); err != nil {
				req.Log.Warn("handlers: federation ban", "target_chat_id", c.ExternalID, "error", err)
				continue
			}
			if _, err := f.repos.Bans.Add(ctx, database.Ban{UserID: t.ID, ChatID: c.ID, FederationID: &fedID, Reason: reason}); err != nil {
				return err
			}
			banned++
		}
		f.audit.Send("#FBAN %s in %d chats by %s\n%s", t.Mention(), banned, req.Update.From.Mention(), htmlSafe(reason))
		if _, err := f.notify.Reply(ctx, req, f.notify.Render(req, "fed.banned", messages.Params{"user": t.Mention(), "count": banned})); err != nil {
			return err
		}
	}
	return nil
}
