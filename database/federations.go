package database

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"tg-moderation-bot/store"
)

type FederationRepository struct {
	store store.Store
}

// Create registers a federation owned by ownerID under a fresh share hash.
func (r *FederationRepository) Create(ctx context.Context, ownerID int64, description string) (*Federation, error) {
	hash := uuid.NewString()
	id, err := r.store.Insert(ctx, TableFederations, store.Row{
		"hash":        hash,
		"description": strings.TrimSpace(description),
		"owner_id":    ownerID,
		"created_at":  now(),
	})
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *FederationRepository) GetByHash(ctx context.Context, hash string) (*Federation, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, ErrNotFound
	}
	return r.one(ctx, store.From(TableFederations).Eq("hash", hash).Take(1))
}

func (r *FederationRepository) GetByID(ctx context.Context, id int64) (*Federation, error) {
	return r.one(ctx, store.From(TableFederations).Eq("id", id).Take(1))
}

func (r *FederationRepository) one(ctx context.Context, q *store.Query) (*Federation, error) {
	rows, err := r.store.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return &Federation{
		ID:          row.Int64("id"),
		Hash:        row.String("hash"),
		Description: row.String("description"),
		OwnerID:     row.Int64("owner_id"),
		CreatedAt:   row.Time("created_at"),
	}, nil
}
