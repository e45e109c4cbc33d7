package database

import (
	"context"
	"strings"

	"tg-moderation-bot/store"
)

// DefaultWarnReason is recorded when a warn carries no reason.
const DefaultWarnReason = "unknown"

type WarningRepository struct {
	store store.Store
}

func (r *WarningRepository) active(userID, chatID int64) *store.Query {
	return store.From(TableWarnings).Eq("user_id", userID).Eq("chat_id", chatID).Eq("status", true)
}

// Add inserts an active warning. A blank reason becomes DefaultWarnReason.
func (r *WarningRepository) Add(ctx context.Context, userID, chatID int64, reason string) (int64, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultWarnReason
	}
	return r.store.Insert(ctx, TableWarnings, store.Row{
		"user_id":    userID,
		"chat_id":    chatID,
		"reason":     reason,
		"status":     true,
		"created_at": now(),
	})
}

func (r *WarningRepository) CountActive(ctx context.Context, userID, chatID int64) (int64, error) {
	return r.store.Count(ctx, r.active(userID, chatID))
}

func (r *WarningRepository) Get(ctx context.Context, id int64) (*Warning, error) {
	rows, err := r.store.Select(ctx, store.From(TableWarnings).Eq("id", id).Take(1))
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return scanWarning(row), nil
}

// Last returns the most recent active warning.
func (r *WarningRepository) Last(ctx context.Context, userID, chatID int64) (*Warning, error) {
	rows, err := r.store.Select(ctx, r.active(userID, chatID).OrderBy("id", true).Take(1))
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return scanWarning(row), nil
}

func (r *WarningRepository) ListActive(ctx context.Context, userID, chatID int64) ([]Warning, error) {
	rows, err := r.store.Select(ctx, r.active(userID, chatID).OrderBy("id", false))
	if err != nil {
		return nil, err
	}
	out := make([]Warning, 0, len(rows))
	for _, row := range rows {
		out = append(out, *scanWarning(row))
	}
	return out, nil
}

// Remove deactivates warnings of userID in chatID: only id when given, all
// active ones otherwise. Rows are never deleted.
func (r *WarningRepository) Remove(ctx context.Context, userID, chatID int64, id *int64) (int64, error) {
	q := r.active(userID, chatID)
	if id != nil {
		q = q.Eq("id", *id)
	}
	return r.store.Update(ctx, q, store.Row{"status": false})
}

func scanWarning(row store.Row) *Warning {
	return &Warning{
		ID:        row.Int64("id"),
		UserID:    row.Int64("user_id"),
		ChatID:    row.Int64("chat_id"),
		Reason:    row.String("reason"),
		Active:    row.Bool("status"),
		CreatedAt: row.Time("created_at"),
	}
}
