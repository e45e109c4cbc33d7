package handlers

import (
	"context"
	"errors"

	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
)

type rulesFeature struct {
	repos  *database.Repositories
	gate   *gate
	notify Notifier
}

func (f *rulesFeature) register(r *Router) error {
	if err := r.Command(f.rules, "rules"); err != nil {
		return err
	}
	if err := r.Command(f.setRules, "setrules"); err != nil {
		return err
	}
	return r.Command(f.deleteRules, "delrules")
}

func (f *rulesFeature) rules(ctx context.Context, req *Request) error {
	rules, err := f.repos.Rules.Get(ctx, req.Chat.ID)
	if errors.Is(err, database.ErrNotFound) {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "rules.none", nil))
		return err
	}
	if err != nil {
		return err
	}
	_, err = f.notify.Reply(ctx, req, f.notify.Render(req, "rules.text", messages.Params{
		"chat":  htmlSafe(req.Update.Chat.Title),
		"rules": htmlSafe(rules.Text),
	}))
	return err
}

func (f *rulesFeature) setRules(ctx context.Context, req *Request) error {
	if err := f.gate.require(ctx, req, denyNotice); err != nil {
		return err
	}
	if req.Route.Args == "" {
		_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "rules.usage", nil))
		return err
	}
	if err := f.repos.Rules.Set(ctx, req.Chat.ID, req.Route.Args); err != nil {
		return err
	}
	_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "rules.saved", nil))
	return err
}

func (f *rulesFeature) deleteRules(ctx context.Context, req *Request) error {
	if err := f.gate.require(ctx, req, denyNotice); err != nil {
		return err
	}
	n, err := f.repos.Rules.Delete(ctx, req.Chat.ID)
	if err != nil {
		return err
	}
	key := "rules.deleted"
	if n == 0 {
		key = "rules.none"
	}
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, key, nil))
	return err
}
