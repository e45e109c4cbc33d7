package handlers

import (
	"context"
	"fmt"
	"strings"

	"tg-moderation-bot/messages"
	"tg-moderation-bot/moderation"
	"tg-moderation-bot/tgctx"
)

// reportTrigger is the mention that calls the chat's administrators.
const reportTrigger = "@admin"

// chatterFeature talks back without moderating.
type chatterFeature struct {
	admins   AdminGate
	throttle ReportThrottle
	notify   Notifier
	opts     Options
}

func (f *chatterFeature) register(r *Router) error {
	if err := r.Command(f.start, "start"); err != nil {
		return err
	}
	if err := r.Command(f.help, "help"); err != nil {
		return err
	}
	r.Passive("report", f.isReport, f.report)
	r.Passive("asktoask", func(req *Request) bool {
		return groupText(req) != "" && req.Chat.Config.AskToAsk && !req.Update.From.IsBot
	}, f.askToAsk)
	r.Passive("ping", func(req *Request) bool { return groupText(req) != "" || privateText(req) != "" }, f.ping)
	r.Passive("service_cleanup", func(req *Request) bool {
		c := req.Update
		return c.Kind == tgctx.KindMessage && c.Chat.IsGroup() && (len(c.NewMembers) > 0 || c.LeftMember != nil)
	}, f.cleanup)
	return nil
}

func groupText(req *Request) string {
	c := req.Update
	if c.Kind != tgctx.KindMessage || !c.Chat.IsGroup() || c.Message == nil {
		return ""
	}
	return c.Message.Text
}

func privateText(req *Request) string {
	c := req.Update
	if c.Kind != tgctx.KindMessage || !c.Chat.IsPrivate() || c.Message == nil {
		return ""
	}
	return c.Message.Text
}

func (f *chatterFeature) start(ctx context.Context, req *Request) error {
	_, err := f.notify.Reply(ctx, req, f.notify.Render(req, "start", nil))
	return err
}

func (f *chatterFeature) help(ctx context.Context, req *Request) error {
	if req.Update.Chat.IsPrivate() {
		_, err := f.notify.Reply(ctx, req, f.notify.Render(req, "help", nil))
		return err
	}
	_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "help", nil))
	return err
}

func (f *chatterFeature) askToAsk(ctx context.Context, req *Request) error {
	if moderation.Check(req.Update.Message.Text) == nil {
		return nil
	}
	_, err := f.notify.Notice(ctx, req, f.notify.Render(req, "asktoask.nag", messages.Params{"user": req.Update.From.Mention()}))
	return err
}

func (f *chatterFeature) ping(ctx context.Context, req *Request) error {
	msg := req.Update.Message
	if strings.EqualFold(strings.TrimSpace(msg.Text), "ping") {
		_, err := f.notify.Reply(ctx, req, f.notify.Render(req, "ping.reply", nil))
		return err
	}
	if f.opts.BotUsername == "" {
		return nil
	}
	for _, m := range msg.Mentions() {
		if m.Type == tgctx.EntityMention && strings.EqualFold(strings.TrimPrefix(m.Text, "@"), f.opts.BotUsername) {
			_, err := f.notify.Reply(ctx, req, f.notify.Render(req, "mention.reply", messages.Params{"user": req.Update.From.Mention()}))
			return err
		}
	}
	return nil
}

func (f *chatterFeature) isReport(req *Request) bool {
	if groupText(req) == "" {
		return false
	}
	for _, m := range req.Update.Message.Mentions() {
		if m.Type == tgctx.EntityMention && strings.EqualFold(m.Text, reportTrigger) {
			return true
		}
	}
	return false
}

// report calls every human admin with an invisible mention each, replying
// to the reported message. One user may report once per throttle window;
// a refused report does not count against it.
func (f *chatterFeature) report(ctx context.Context, req *Request) error {
	c := req.Update
	replyTo := c.Message.ID
	if reported := c.Message.ReplyTo; reported != nil {
		replyTo = reported.ID
		if reported.From != nil {
			if key := f.protectedReport(ctx, req, reported.From.ID); key != "" {
				_, err := f.notify.Notice(ctx, req, f.notify.Render(req, key, nil))
				return err
			}
		}
	}

	allowed, err := f.throttle.AllowReport(ctx, c.Chat.ID, c.From.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return nil
	}

	admins, err := f.admins.Admins(ctx, c.Chat.ID)
	if err != nil {
		return err
	}
	var links strings.Builder
	for _, a := range admins {
		if a.IsBot {
			continue
		}
		fmt.Fprintf(&links, `<a href="tg://user?id=%d">&#8203;</a>`, a.ID)
	}

	text := f.notify.Render(req, "report.done", messages.Params{"admins": links.String()})
	reply := *req
	reply.Update = withReplyTo(c, replyTo)
	_, err = f.notify.Reply(ctx, &reply, text)
	return err
}

// protectedReport names the refusal for reporting userID, or "".
func (f *chatterFeature) protectedReport(ctx context.Context, req *Request, userID int64) string {
	if userID == f.opts.BotID || (f.opts.OwnerID != 0 && userID == f.opts.OwnerID) {
		return "report.self"
	}
	admin, err := f.admins.IsAdmin(ctx, req.Update.Chat, userID)
	if err != nil {
		req.Log.Warn("handlers: check reported user", "error", err)
		return ""
	}
	if admin {
		return "report.admin"
	}
	return ""
}

func withReplyTo(c *tgctx.Context, messageID int) *tgctx.Context {
	cp := *c
	msg := *c.Message
	msg.ID = messageID
	cp.Message = &msg
	return &cp
}

// cleanup schedules join and leave service messages for removal.
func (f *chatterFeature) cleanup(ctx context.Context, req *Request) error {
	f.notify.Track(ctx, req.Update.Chat.ID, req.MessageID(), f.opts.Now().Add(f.opts.ServiceMessageTTL))
	return nil
}
