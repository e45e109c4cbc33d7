// Package tglog пишет события модерации в лог-канал.
package tglog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tg-moderation-bot/telegram"
)

const sendTimeout = 5 * time.Second

// Logger отправляет в фоне: Send не блокирует вызывающего, ошибки только
// логируются. Нулевой канал отключает логгер.
type Logger struct {
	api       telegram.API
	channelID int64
	wg        sync.WaitGroup
}

func New(api telegram.API, channelID int64) *Logger {
	if channelID == 0 {
		slog.Info("tglog: LOG_CHANNEL_ID не задан, логирование в канал выключено")
	} else {
		slog.Info("tglog: логирование в канал включено", "channel_id", channelID)
	}
	return &Logger{api: api, channelID: channelID}
}

func (l *Logger) Enabled() bool { return l != nil && l.channelID != 0 }

// Send форматирует HTML-сообщение и отправляет его в лог-канал (неблокирующий)
func (l *Logger) Send(format string, args ...any) {
	if !l.Enabled() {
		return
	}
	text := fmt.Sprintf(format, args...)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if _, err := l.api.Send(ctx, telegram.Outgoing{ChatID: l.channelID, Text: text, HTML: true}); err != nil {
			slog.Warn("tglog: ошибка отправки лога в канал", "channel_id", l.channelID, "error", err)
		}
	}()
}

// Wait ждёт завершения всех отправок.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
