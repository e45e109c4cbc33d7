package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tg-moderation-bot/store"
)

type UserRepository struct {
	store store.Store
}

func (r *UserRepository) GetByExternalID(ctx context.Context, externalID int64) (*User, error) {
	return r.one(ctx, store.From(TableUsers).Eq("external_id", externalID).Take(1))
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.one(ctx, store.From(TableUsers).Eq("id", id).Take(1))
}

// GetByUsername matches case-insensitively; a leading @ is ignored.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	key := usernameKey(username)
	if key == "" {
		return nil, ErrNotFound
	}
	return r.one(ctx, store.From(TableUsers).Eq("username_key", key).OrderBy("id", true).Take(1))
}

func (r *UserRepository) one(ctx context.Context, q *store.Query) (*User, error) {
	rows, err := r.store.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return scanUser(row), nil
}

func (r *UserRepository) Create(ctx context.Context, seed User) (int64, error) {
	t := now()
	return r.store.Insert(ctx, TableUsers, store.Row{
		"external_id":   seed.ExternalID,
		"first_name":    seed.FirstName,
		"last_name":     seed.LastName,
		"username":      seed.Username,
		"username_key":  usernameKey(seed.Username),
		"language_code": seed.LanguageCode,
		"is_bot":        seed.IsBot,
		"is_channel":    seed.IsChannel,
		"is_premium":    seed.IsPremium,
		"created_at":    t,
		"updated_at":    t,
	})
}

func (r *UserRepository) Update(ctx context.Context, externalID int64, patch store.Row) (int64, error) {
	if u, ok := patch["username"].(string); ok {
		patch["username_key"] = usernameKey(u)
	}
	patch["updated_at"] = now()
	return r.store.Update(ctx, store.From(TableUsers).Eq("external_id", externalID), patch)
}

// Ensure returns the user for seed.ExternalID, creating it on first sight
// and refreshing names, username, language and flags when they change.
// Telegram always sends a first name, so a seed without one only ensures
// existence and never overwrites the stored profile.
func (r *UserRepository) Ensure(ctx context.Context, seed User) (*User, error) {
	u, err := r.GetByExternalID(ctx, seed.ExternalID)
	if errors.Is(err, ErrNotFound) {
		if _, err := r.Create(ctx, seed); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("database: create user %d: %w", seed.ExternalID, err)
		}
		return r.GetByExternalID(ctx, seed.ExternalID)
	}
	if err != nil {
		return nil, err
	}

	patch := store.Row{}
	if seed.FirstName != "" && seed.FirstName != u.FirstName {
		patch["first_name"] = seed.FirstName
		u.FirstName = seed.FirstName
	}
	if seed.FirstName != "" && seed.LastName != u.LastName {
		patch["last_name"] = seed.LastName
		u.LastName = seed.LastName
	}
	if seed.FirstName != "" && seed.Username != u.Username {
		patch["username"] = seed.Username
		u.Username = seed.Username
	}
	if seed.LanguageCode != "" && seed.LanguageCode != u.LanguageCode {
		patch["language_code"] = seed.LanguageCode
		u.LanguageCode = seed.LanguageCode
	}
	if seed.IsPremium != u.IsPremium && seed.FirstName != "" {
		patch["is_premium"] = seed.IsPremium
		u.IsPremium = seed.IsPremium
	}
	if len(patch) == 0 {
		return u, nil
	}
	if _, err := r.Update(ctx, seed.ExternalID, patch); err != nil {
		return nil, err
	}
	return u, nil
}

func scanUser(row store.Row) *User {
	return &User{
		ID:           row.Int64("id"),
		ExternalID:   row.Int64("external_id"),
		FirstName:    row.String("first_name"),
		LastName:     row.String("last_name"),
		Username:     row.String("username"),
		LanguageCode: row.String("language_code"),
		IsBot:        row.Bool("is_bot"),
		IsChannel:    row.Bool("is_channel"),
		IsPremium:    row.Bool("is_premium"),
		CreatedAt:    row.Time("created_at"),
	}
}

func usernameKey(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
