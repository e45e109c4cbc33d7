// Package authority answers "may this user moderate this chat" and owns the
// report throttle windows.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"tg-moderation-bot/cache"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/tgctx"
)

// MaxAdminTTL bounds how stale a cached administrator list may be.
const MaxAdminTTL = 5 * time.Minute

type Authority struct {
	api          telegram.API
	cache        cache.Cache
	adminTTL     time.Duration
	reportWindow time.Duration
}

func New(api telegram.API, c cache.Cache, adminTTL, reportWindow time.Duration) *Authority {
	if adminTTL <= 0 || adminTTL > MaxAdminTTL {
		adminTTL = MaxAdminTTL
	}
	if reportWindow <= 0 {
		reportWindow = time.Minute
	}
	return &Authority{api: api, cache: c, adminTTL: adminTTL, reportWindow: reportWindow}
}

func adminsKey(chatID int64) string { return fmt.Sprintf("admins:%d", chatID) }

// Admins returns the chat's administrators, from cache when fresh. Cache
// failures fall through to the remote lookup.
func (a *Authority) Admins(ctx context.Context, chatID int64) ([]telegram.Member, error) {
	key := adminsKey(chatID)
	raw, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("authority: admin cache read failed", "chat_id", chatID, "error", err)
	}
	if ok {
		var admins []telegram.Member
		if err := json.Unmarshal(raw, &admins); err == nil {
			return admins, nil
		}
	}

	admins, err := a.api.Administrators(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(admins); err == nil {
		if err := a.cache.Set(ctx, key, raw, a.adminTTL); err != nil {
			slog.Warn("authority: admin cache write failed", "chat_id", chatID, "error", err)
		}
	}
	return admins, nil
}

// IsAdmin is always true in private chats. In groups a message sent on
// behalf of the group itself comes from an anonymous administrator.
func (a *Authority) IsAdmin(ctx context.Context, chat tgctx.Chat, userID int64) (bool, error) {
	if chat.IsPrivate() {
		return true, nil
	}
	if userID == chat.ID {
		return true, nil
	}
	admins, err := a.Admins(ctx, chat.ID)
	if err != nil {
		return false, err
	}
	for _, m := range admins {
		if m.ID == userID {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops the cached administrator list of chatID.
func (a *Authority) Invalidate(ctx context.Context, chatID int64) {
	if err := a.cache.Delete(ctx, adminsKey(chatID)); err != nil {
		slog.Warn("authority: admin cache invalidate failed", "chat_id", chatID, "error", err)
	}
}

// AllowReport opens a report window for (chat, user) and reports whether
// none was open yet.
func (a *Authority) AllowReport(ctx context.Context, chatID, userID int64) (bool, error) {
	ok, err := a.cache.SetNX(ctx, fmt.Sprintf("report:%d:%d", chatID, userID), []byte("1"), a.reportWindow)
	if err != nil {
		return false, fmt.Errorf("authority: report window: %w", err)
	}
	return ok, nil
}
