package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg-moderation-bot/store"
)

type RelationRepository struct {
	store store.Store
}

func (r *RelationRepository) match(userID, chatID int64) *store.Query {
	return store.From(TableRelations).Eq("user_id", userID).Eq("chat_id", chatID)
}

func (r *RelationRepository) Get(ctx context.Context, userID, chatID int64) (*Relation, error) {
	rows, err := r.store.Select(ctx, r.match(userID, chatID).Take(1))
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return scanRelation(row), nil
}

// Ensure makes sure the (user, chat) relation exists and is joined. A new
// row starts with the given checked flag. Concurrent callers converge on a
// single row.
func (r *RelationRepository) Ensure(ctx context.Context, userID, chatID int64, checked bool) (*Relation, error) {
	rel, err := r.Get(ctx, userID, chatID)
	if errors.Is(err, ErrNotFound) {
		_, err = r.store.Insert(ctx, TableRelations, store.Row{
			"user_id":   userID,
			"chat_id":   chatID,
			"joined":    true,
			"checked":   checked,
			"joined_at": now(),
			"ttl":       nil,
		})
		if err == nil {
			return r.Get(ctx, userID, chatID)
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("database: create relation %d/%d: %w", userID, chatID, err)
		}
		rel, err = r.Get(ctx, userID, chatID)
	}
	if err != nil {
		return nil, err
	}
	if !rel.Joined {
		if _, err := r.store.Update(ctx, r.match(userID, chatID), store.Row{"joined": true}); err != nil {
			return nil, err
		}
		rel.Joined = true
	}
	return rel, nil
}

// Join records a (re)join. With a deadline the member is pending
// verification until Confirm; without one it counts as checked.
func (r *RelationRepository) Join(ctx context.Context, userID, chatID int64, ttl *time.Time) (*Relation, error) {
	if _, err := r.Ensure(ctx, userID, chatID, false); err != nil {
		return nil, err
	}
	_, err := r.store.Update(ctx, r.match(userID, chatID), store.Row{
		"joined":    true,
		"checked":   ttl == nil,
		"joined_at": now(),
		"ttl":       nullable(ttl),
	})
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, userID, chatID)
}

// Leave resets joined and checked and drops any pending deadline.
func (r *RelationRepository) Leave(ctx context.Context, userID, chatID int64) (int64, error) {
	return r.store.Update(ctx, r.match(userID, chatID), store.Row{
		"joined":  false,
		"checked": false,
		"ttl":     nil,
	})
}

// Confirm marks a pending relation as verified. It affects no rows when the
// relation is missing, already checked, or no longer joined with a deadline.
func (r *RelationRepository) Confirm(ctx context.Context, userID, chatID int64) (int64, error) {
	q := r.match(userID, chatID).Eq("joined", true).Eq("checked", false).NotNull("ttl")
	return r.store.Update(ctx, q, store.Row{
		"checked": true,
		"ttl":     nil,
	})
}

// Expired lists joined, unverified relations whose deadline is before now.
func (r *RelationRepository) Expired(ctx context.Context, now time.Time) ([]PendingMember, error) {
	rows, err := r.store.Select(ctx, store.From(TableRelations).
		LeftJoin(TableUsers, "user_id", "id", store.As("external_id", "user_external_id")).
		LeftJoin(TableChats, "chat_id", "id", store.As("external_id", "chat_external_id")).
		Eq("joined", true).
		Eq("checked", false).
		NotNull("ttl").
		Lt("ttl", now).
		OrderBy("id", false))
	if err != nil {
		return nil, err
	}
	out := make([]PendingMember, 0, len(rows))
	for _, row := range rows {
		if !row.Has("user_external_id") || !row.Has("chat_external_id") {
			continue
		}
		out = append(out, PendingMember{
			RelationID:     row.Int64("id"),
			UserExternalID: row.Int64("user_external_id"),
			ChatExternalID: row.Int64("chat_external_id"),
		})
	}
	return out, nil
}

// MarkExpired closes out the given relations in one batch.
func (r *RelationRepository) MarkExpired(ctx context.Context, relationIDs []int64) (int64, error) {
	if len(relationIDs) == 0 {
		return 0, nil
	}
	return r.store.Update(ctx, store.From(TableRelations).In("id", ids(relationIDs)...), store.Row{
		"joined": false,
		"ttl":    nil,
	})
}

func scanRelation(row store.Row) *Relation {
	return &Relation{
		ID:       row.Int64("id"),
		UserID:   row.Int64("user_id"),
		ChatID:   row.Int64("chat_id"),
		Joined:   row.Bool("joined"),
		Checked:  row.Bool("checked"),
		JoinedAt: row.Time("joined_at"),
		TTL:      row.TimePtr("ttl"),
	}
}
