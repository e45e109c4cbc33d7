package telegram

import (
	"context"
	"reflect"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg-moderation-bot/metrics"
)

// Client implements API on top of a go-telegram/bot instance.
type Client struct {
	b *bot.Bot
}

func NewClient(b *bot.Bot) *Client {
	return &Client{b: b}
}

func (c *Client) fail(method string, err error) error {
	metrics.RemoteFailures.WithLabelValues(method).Inc()
	return &RemoteError{Method: method, Err: err}
}

func (c *Client) check(method string, ok bool, err error) error {
	if err != nil {
		return c.fail(method, err)
	}
	if !ok {
		return c.fail(method, ErrRejected)
	}
	return nil
}

func (c *Client) Send(ctx context.Context, msg Outgoing) (int, error) {
	params := &bot.SendMessageParams{
		ChatID: msg.ChatID,
		Text:   msg.Text,
	}
	if msg.HTML {
		params.ParseMode = models.ParseModeHTML
	}
	if msg.ReplyTo != 0 {
		params.ReplyParameters = &models.ReplyParameters{
			MessageID:                msg.ReplyTo,
			AllowSendingWithoutReply: true,
		}
	}
	if len(msg.Keyboard) > 0 {
		params.ReplyMarkup = keyboard(msg.Keyboard)
	}
	sent, err := c.b.SendMessage(ctx, params)
	if err != nil {
		return 0, c.fail("sendMessage", err)
	}
	return sent.ID, nil
}

func keyboard(rows [][]Button) *models.InlineKeyboardMarkup {
	markup := &models.InlineKeyboardMarkup{InlineKeyboard: make([][]models.InlineKeyboardButton, 0, len(rows))}
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, models.InlineKeyboardButton{Text: btn.Text, CallbackData: btn.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, buttons)
	}
	return markup
}

func (c *Client) Delete(ctx context.Context, chatID int64, messageID int) error {
	ok, err := c.b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: messageID})
	return c.check("deleteMessage", ok, err)
}

func (c *Client) Ban(ctx context.Context, chatID, userID int64, until time.Time) error {
	ok, err := c.b.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID:    chatID,
		UserID:    userID,
		UntilDate: unix(until),
	})
	return c.check("banChatMember", ok, err)
}

func (c *Client) Unban(ctx context.Context, chatID, userID int64, onlyIfBanned bool) error {
	ok, err := c.b.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       chatID,
		UserID:       userID,
		OnlyIfBanned: onlyIfBanned,
	})
	return c.check("unbanChatMember", ok, err)
}

func (c *Client) Restrict(ctx context.Context, chatID, userID int64, perms models.ChatPermissions, until time.Time) error {
	ok, err := c.b.RestrictChatMember(ctx, &bot.RestrictChatMemberParams{
		ChatID:      chatID,
		UserID:      userID,
		Permissions: &perms,
		UntilDate:   unix(until),
	})
	return c.check("restrictChatMember", ok, err)
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	ok, err := c.b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	return c.check("answerCallbackQuery", ok, err)
}

func (c *Client) Administrators(ctx context.Context, chatID int64) ([]Member, error) {
	admins, err := c.b.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chatID})
	if err != nil {
		return nil, c.fail("getChatAdministrators", err)
	}
	out := make([]Member, 0, len(admins))
	for _, a := range admins {
		if u := MemberUser(a); u != nil {
			out = append(out, Member{ID: u.ID, IsBot: u.IsBot, FirstName: u.FirstName, Username: u.Username})
		}
	}
	return out, nil
}

func unix(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return int(t.Unix())
}

// MemberUser returns the user of whichever ChatMember variant is set. The
// variants disagree on whether User is held by value or by pointer.
func MemberUser(m models.ChatMember) *models.User {
	v := reflect.ValueOf(m)
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() != reflect.Pointer || f.IsNil() || f.Elem().Kind() != reflect.Struct {
			continue
		}
		switch u := f.Elem().FieldByName("User"); {
		case !u.IsValid():
			continue
		case u.Kind() == reflect.Struct:
			if user, ok := u.Interface().(models.User); ok {
				return &user
			}
		case u.Kind() == reflect.Pointer && !u.IsNil():
			if user, ok := u.Interface().(*models.User); ok {
				return user
			}
		}
	}
	return nil
}
