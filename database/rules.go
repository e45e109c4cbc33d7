package database

import (
	"context"
	"errors"

	"tg-moderation-bot/store"
)

type RulesRepository struct {
	store store.Store
}

func (r *RulesRepository) Get(ctx context.Context, chatID int64) (*Rules, error) {
	rows, err := r.store.Select(ctx, store.From(TableRules).Eq("chat_id", chatID).Take(1))
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return &Rules{
		ID:        row.Int64("id"),
		ChatID:    row.Int64("chat_id"),
		Text:      row.String("text"),
		UpdatedAt: row.Time("updated_at"),
	}, nil
}

// Set stores text as the chat's only rules row.
func (r *RulesRepository) Set(ctx context.Context, chatID int64, text string) error {
	_, err := r.Get(ctx, chatID)
	if err == nil {
		return r.update(ctx, chatID, text)
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err = r.store.Insert(ctx, TableRules, store.Row{
		"chat_id":    chatID,
		"text":       text,
		"updated_at": now(),
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return r.update(ctx, chatID, text)
	}
	return err
}

func (r *RulesRepository) update(ctx context.Context, chatID int64, text string) error {
	_, err := r.store.Update(ctx, store.From(TableRules).Eq("chat_id", chatID), store.Row{
		"text":       text,
		"updated_at": now(),
	})
	return err
}

func (r *RulesRepository) Delete(ctx context.Context, chatID int64) (int64, error) {
	return r.store.Delete(ctx, store.From(TableRules).Eq("chat_id", chatID))
}
