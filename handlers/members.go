package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tglog"
	"tg-moderation-bot/tgctx"
)

// NewcomerWindow is how long the restricted permission set lasts.
const NewcomerWindow = 24 * time.Hour

// BanReasonAdaShield is the audit reason of an AdaShield ban.
const BanReasonAdaShield = "adashield"

// AdminCache is an AdminGate whose cached lists can be dropped.
type AdminCache interface {
	AdminGate
	Invalidate(ctx context.Context, chatID int64)
}

// membersFeature reacts to joins and leaves and owns the captcha.
type membersFeature struct {
	repos  *database.Repositories
	api    telegram.API
	admins AdminCache
	notify Notifier
	audit  *tglog.Logger
	opts   Options
}

func (f *membersFeature) register(r *Router) error {
	r.Passive("bot_membership", func(req *Request) bool {
		return req.Update.Kind == tgctx.KindMyChatMember && req.Update.Membership != nil
	}, f.botMembership)
	r.Passive("member_status", func(req *Request) bool {
		return req.Update.Kind == tgctx.KindChatMember
	}, f.memberStatus)
	r.Passive("new_members", func(req *Request) bool {
		return req.Update.Kind == tgctx.KindMessage && req.Update.Chat.IsGroup() && len(req.Update.NewMembers) > 0
	}, f.newMembers)
	r.Passive("left_member", func(req *Request) bool {
		return req.Update.Kind == tgctx.KindMessage && req.Update.Chat.IsGroup() && req.Update.LeftMember != nil
	}, f.leftMember)
	return r.Callback("captcha", f.confirm)
}

func (f *membersFeature) botMembership(ctx context.Context, req *Request) error {
	m := req.Update.Membership
	if f.opts.BotID != 0 && m.User.ID != f.opts.BotID {
		return nil
	}
	f.admins.Invalidate(ctx, req.Update.Chat.ID)
	_, err := f.repos.Chats.SetMember(ctx, req.Update.Chat.ID, m.Active())
	return err
}

// memberStatus drops the admin cache when somebody's rights change.
func (f *membersFeature) memberStatus(ctx context.Context, req *Request) error {
	f.admins.Invalidate(ctx, req.Update.Chat.ID)
	return nil
}

// newMembers runs, per joining member: AdaShield, then the captcha
// challenge, else the newcomer restriction and the greeting.
func (f *membersFeature) newMembers(ctx context.Context, req *Request) error {
	cfg := req.Chat.Config
	for _, m := range req.Update.NewMembers {
		if m.ID == f.opts.BotID {
			continue
		}
		u, err := f.repos.Users.Ensure(ctx, userSeed(m))
		if err != nil {
			return err
		}
		t := target{u}

		if cfg.AdaShield && !m.IsBot {
			shielded, err := f.adaShield(ctx, req, t)
			if err != nil {
				return err
			}
			if shielded {
				continue
			}
		}

		if cfg.Captcha && !m.IsBot {
			challenged, err := f.challenge(ctx, req, t)
			if err != nil {
				return err
			}
			if challenged {
				continue
			}
		}

		if _, err := f.repos.Relations.Join(ctx, u.ID, req.Chat.ID, nil); err != nil {
			return err
		}
		if cfg.RestrictNewUsers && !m.IsBot {
			f.restrictNewcomer(ctx, req, m.ID)
		}
		f.greet(ctx, req, t)
	}
	return nil
}

// adaShield bans a joining user already banned in enough other chats.
func (f *membersFeature) adaShield(ctx context.Context, req *Request, t target) (bool, error) {
	if f.opts.AdaShieldThreshold <= 0 {
		return false, nil
	}
	n, err := f.repos.Bans.CountOtherChats(ctx, t.ID, req.Chat.ID)
	if err != nil {
		return false, err
	}
	if n < f.opts.AdaShieldThreshold {
		return false, nil
	}
	if err := f.api.Ban(ctx, req.Update.Chat.ID, t.ExternalID, time.Time{}); err != nil {
		req.Log.Warn("handlers: adashield ban", "target_id", t.ExternalID, "error", err)
		return false, nil
	}
	if _, err := f.repos.Bans.Add(ctx, database.Ban{UserID: t.ID, ChatID: req.Chat.ID, Reason: BanReasonAdaShield}); err != nil {
		return true, err
	}
	f.audit.Send("#ADASHIELD %s in %s, banned in %d other chats", t.Mention(), htmlSafe(req.Update.Chat.Title), n)
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, "adashield.banned", messages.Params{"user": t.Mention(), "count": n}))
	return true, err
}

// challenge mutes the member and posts the confirmation button. The member
// is kicked by the relation sweeper unless confirmed before the deadline.
func (f *membersFeature) challenge(ctx context.Context, req *Request, t target) (bool, error) {
	if err := f.api.Restrict(ctx, req.Update.Chat.ID, t.ExternalID, telegram.NoPermissions(), time.Time{}); err != nil {
		req.Log.Warn("handlers: captcha restrict", "target_id", t.ExternalID, "error", err)
		return false, nil
	}
	deadline := f.opts.Now().Add(f.opts.CaptchaTimeout)
	if _, err := f.repos.Relations.Join(ctx, t.ID, req.Chat.ID, &deadline); err != nil {
		return true, err
	}
	text := f.notify.Render(req, "captcha.challenge", messages.Params{
		"user":    t.Mention(),
		"minutes": int(f.opts.CaptchaTimeout.Round(time.Minute) / time.Minute),
	})
	button := telegram.Button{
		Text: f.notify.Render(req, "captcha.button", nil),
		Data: fmt.Sprintf("captcha:%d", t.ExternalID),
	}
	id, err := f.notify.Post(ctx, req, text, []telegram.Button{button})
	if err != nil {
		return true, err
	}
	f.notify.Track(ctx, req.Update.Chat.ID, id, deadline)
	return true, nil
}

func (f *membersFeature) restrictNewcomer(ctx context.Context, req *Request, userID int64) {
	until := f.opts.Now().Add(NewcomerWindow)
	if err := f.api.Restrict(ctx, req.Update.Chat.ID, userID, telegram.NewcomerPermissions(), until); err != nil {
		req.Log.Warn("handlers: restrict newcomer", "target_id", userID, "error", err)
	}
}

func (f *membersFeature) greet(ctx context.Context, req *Request, t target) {
	cfg := req.Chat.Config
	if !cfg.Greetings || t.IsBot {
		return
	}
	var text string
	if cfg.GreetingText != "" {
		text = strings.ReplaceAll(htmlSafe(cfg.GreetingText), "{user}", t.Mention())
	} else {
		text = f.notify.Render(req, "greetings.default", messages.Params{"user": t.Mention()})
	}
	if _, err := f.notify.Post(ctx, req, text); err != nil {
		req.Log.Warn("handlers: greet", "error", err)
	}
}

func (f *membersFeature) leftMember(ctx context.Context, req *Request) error {
	left := *req.Update.LeftMember
	if left.ID == f.opts.BotID {
		return nil
	}
	u, err := f.repos.Users.Ensure(ctx, userSeed(left))
	if err != nil {
		return err
	}
	if _, err := f.repos.Relations.Leave(ctx, u.ID, req.Chat.ID); err != nil {
		return err
	}
	if !req.Chat.Config.Goodbye || left.IsBot {
		return nil
	}
	_, err = f.notify.Notice(ctx, req, f.notify.Render(req, "goodbye.text", messages.Params{"user": target{u}.Mention()}))
	return err
}

// confirm is the captcha button. Only the challenged user may press it;
// anybody else is ignored without any call so the challenge stays private.
func (f *membersFeature) confirm(ctx context.Context, req *Request) error {
	uid, err := strconv.ParseInt(req.Route.Args, 10, 64)
	if err != nil || uid != req.Update.From.ID || req.User == nil {
		return nil
	}
	cb := req.Update.Callback
	n, err := f.repos.Relations.Confirm(ctx, req.User.ID, req.Chat.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return f.api.AnswerCallback(ctx, cb.ID, "")
	}

	if cb.MessageID != 0 {
		if err := f.api.Delete(ctx, req.Update.Chat.ID, cb.MessageID); err != nil {
			req.Log.Warn("handlers: delete captcha", "error", err)
		}
		if _, err := f.repos.Messages.Forget(ctx, req.Update.Chat.ID, cb.MessageID); err != nil {
			req.Log.Warn("handlers: forget captcha", "error", err)
		}
	}
	if err := f.api.Restrict(ctx, req.Update.Chat.ID, uid, telegram.FullPermissions(), time.Time{}); err != nil {
		req.Log.Warn("handlers: lift captcha restriction", "error", err)
	}
	if req.Chat.Config.RestrictNewUsers {
		f.restrictNewcomer(ctx, req, uid)
	}
	if err := f.api.AnswerCallback(ctx, cb.ID, f.notify.Render(req, "captcha.passed", nil)); err != nil {
		req.Log.Warn("handlers: answer captcha", "error", err)
	}
	f.greet(ctx, req, target{req.User})
	return nil
}
