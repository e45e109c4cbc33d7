package interval

import (
	"context"
	"time"

	"tg-moderation-bot/database"
	"tg-moderation-bot/telegram"
)

// NewRelationSweeper kicks members who did not pass the captcha before
// their deadline. The kick is an unban of a member who is not banned, so
// they may join again.
func NewRelationSweeper(relations *database.RelationRepository, api telegram.API, opts Options) *Sweeper {
	s := newSweeper("relations", opts)
	s.list = func(ctx context.Context, now time.Time) ([]item, error) {
		rows, err := relations.Expired(ctx, now)
		if err != nil {
			return nil, err
		}
		items := make([]item, 0, len(rows))
		for _, r := range rows {
			items = append(items, item{id: r.RelationID, act: func(ctx context.Context) error {
				return api.Unban(ctx, r.ChatExternalID, r.UserExternalID, false)
			}})
		}
		return items, nil
	}
	s.settle = relations.MarkExpired
	return s
}

// NewMessageSweeper удаляет сообщения с истёкшим сроком жизни.
func NewMessageSweeper(messages *database.MessageRepository, api telegram.API, opts Options) *Sweeper {
	s := newSweeper("messages", opts)
	s.list = func(ctx context.Context, now time.Time) ([]item, error) {
		rows, err := messages.Expired(ctx, now)
		if err != nil {
			return nil, err
		}
		items := make([]item, 0, len(rows))
		for _, m := range rows {
			items = append(items, item{id: m.ID, act: func(ctx context.Context) error {
				return api.Delete(ctx, m.ChatExternalID, m.MessageID)
			}})
		}
		return items, nil
	}
	s.settle = messages.MarkDeleted
	return s
}
