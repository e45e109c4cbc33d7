package handlers

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"time"

	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/telegram"
)

// Notifier renders templates and delivers them to chats and users.
// Delivery failures are returned; handlers decide whether they matter.
type Notifier interface {
	Render(req *Request, key string, p messages.Params) string
	// Reply answers the triggering message, or posts to the chat when there
	// is none.
	Reply(ctx context.Context, req *Request, text string, keyboard ...[]telegram.Button) (int, error)
	// Notice is a Reply removed again after the service message TTL.
	Notice(ctx context.Context, req *Request, text string) (int, error)
	// Post sends to the request's chat without replying.
	Post(ctx context.Context, req *Request, text string, keyboard ...[]telegram.Button) (int, error)
	Direct(ctx context.Context, userID int64, text string) error
	// Track schedules a chat message for removal at ttl.
	Track(ctx context.Context, chatID int64, messageID int, ttl time.Time)
}

type chatNotifier struct {
	api      telegram.API
	catalog  *messages.Catalog
	messages *database.MessageRepository
	locale   string
	ttl      time.Duration
	now      func() time.Time
}

func (n *chatNotifier) Render(req *Request, key string, p messages.Params) string {
	locale := n.locale
	if req != nil && req.Locale() != "" {
		locale = req.Locale()
	}
	return n.catalog.Render(key, locale, p)
}

func (n *chatNotifier) Reply(ctx context.Context, req *Request, text string, keyboard ...[]telegram.Button) (int, error) {
	return n.api.Send(ctx, telegram.Outgoing{
		ChatID:   req.Update.Chat.ID,
		Text:     text,
		ReplyTo:  req.MessageID(),
		HTML:     true,
		Keyboard: keyboard,
	})
}

func (n *chatNotifier) Post(ctx context.Context, req *Request, text string, keyboard ...[]telegram.Button) (int, error) {
	return n.api.Send(ctx, telegram.Outgoing{
		ChatID:   req.Update.Chat.ID,
		Text:     text,
		HTML:     true,
		Keyboard: keyboard,
	})
}

func (n *chatNotifier) Notice(ctx context.Context, req *Request, text string) (int, error) {
	id, err := n.Reply(ctx, req, text)
	if err != nil {
		return 0, err
	}
	if !req.Update.Chat.IsPrivate() {
		n.Track(ctx, req.Update.Chat.ID, id, n.now().Add(n.ttl))
	}
	return id, nil
}

func (n *chatNotifier) Direct(ctx context.Context, userID int64, text string) error {
	_, err := n.api.Send(ctx, telegram.Outgoing{ChatID: userID, Text: text, HTML: true})
	return err
}

func (n *chatNotifier) Track(ctx context.Context, chatID int64, messageID int, ttl time.Time) {
	if messageID == 0 {
		return
	}
	if _, err := n.messages.Track(ctx, chatID, messageID, ttl); err != nil {
		slog.Warn("handlers: track message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// remoteFailed tells the chat a remote call did not go through.
func remoteFailed(ctx context.Context, n Notifier, req *Request, err error) {
	req.Log.Warn("handlers: remote call failed", "route", req.Route.Name, "error", err)
	if _, sendErr := n.Notice(ctx, req, n.Render(req, "remote_failed", messages.Params{"error": remoteReason(err)})); sendErr != nil {
		req.Log.Warn("handlers: notify failure", "error", sendErr)
	}
}

func remoteReason(err error) string {
	var remote *telegram.RemoteError
	if errors.As(err, &remote) {
		return html.EscapeString(remote.Err.Error())
	}
	return html.EscapeString(err.Error())
}
