package database

import (
	"context"
	"time"

	"tg-moderation-bot/store"
)

// MessageRepository tracks chat messages the bot removes after a TTL.
type MessageRepository struct {
	store store.Store
}

func (r *MessageRepository) Track(ctx context.Context, chatExternalID int64, messageID int, ttl time.Time) (int64, error) {
	return r.store.Insert(ctx, TableMessages, store.Row{
		"chat_external_id": chatExternalID,
		"message_id":       int64(messageID),
		"ttl":              ttl.UTC(),
		"status":           true,
		"created_at":       now(),
	})
}

// Expired lists active tracked messages whose ttl is before now.
func (r *MessageRepository) Expired(ctx context.Context, now time.Time) ([]TrackedMessage, error) {
	rows, err := r.store.Select(ctx, store.From(TableMessages).
		Eq("status", true).
		NotNull("ttl").
		Lt("ttl", now.UTC()).
		OrderBy("id", false))
	if err != nil {
		return nil, err
	}
	out := make([]TrackedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, TrackedMessage{
			ID:             row.Int64("id"),
			ChatExternalID: row.Int64("chat_external_id"),
			MessageID:      int(row.Int64("message_id")),
			TTL:            row.TimePtr("ttl"),
		})
	}
	return out, nil
}

// MarkDeleted deactivates the given rows in one batch.
func (r *MessageRepository) MarkDeleted(ctx context.Context, messageIDs []int64) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	return r.store.Update(ctx, store.From(TableMessages).In("id", ids(messageIDs)...), store.Row{"status": false})
}

// Forget deactivates the tracked row of one chat message, if any.
func (r *MessageRepository) Forget(ctx context.Context, chatExternalID int64, messageID int) (int64, error) {
	return r.store.Update(ctx, store.From(TableMessages).
		Eq("chat_external_id", chatExternalID).
		Eq("message_id", int64(messageID)).
		Eq("status", true), store.Row{"status": false})
}
