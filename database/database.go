// Package database holds the typed repositories over the record store.
//
// Every repository re-reads current rows on each call; nothing here caches
// entity state. Creation races are resolved by re-reading after a
// duplicate-key failure.
package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tg-moderation-bot/store"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("database: not found")

//go:embed schema.sql
var schemaSQL string

// Indexes are the unique constraints of schema.sql, for the memory store.
func Indexes() []store.Index {
	return []store.Index{
		{Table: TableFederations, Columns: []string{"hash"}},
		{Table: TableChats, Columns: []string{"external_id"}},
		{Table: TableChatConfigs, Columns: []string{"chat_id"}},
		{Table: TableUsers, Columns: []string{"external_id"}},
		{Table: TableRelations, Columns: []string{"user_id", "chat_id"}},
		{Table: TableRules, Columns: []string{"chat_id"}},
	}
}

// Migrate applies schema.sql when the backend accepts DDL.
func Migrate(ctx context.Context, s store.Store) error {
	m, ok := s.(store.Migrator)
	if !ok {
		return nil
	}
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := m.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("database: migrate: %w", err)
		}
	}
	slog.Info("database: schema migrated")
	return nil
}

// Repositories bundles the per-entity repositories over one store handle.
type Repositories struct {
	Chats       *ChatRepository
	Users       *UserRepository
	Relations   *RelationRepository
	Warnings    *WarningRepository
	Bans        *BanRepository
	Federations *FederationRepository
	Messages    *MessageRepository
	Rules       *RulesRepository
}

// New wires all repositories to s. warnLimit seeds new chat configs.
func New(s store.Store, warnLimit int) *Repositories {
	if warnLimit <= 0 {
		warnLimit = DefaultWarnLimit
	}
	return &Repositories{
		Chats:       &ChatRepository{store: s, warnLimit: warnLimit},
		Users:       &UserRepository{store: s},
		Relations:   &RelationRepository{store: s},
		Warnings:    &WarningRepository{store: s},
		Bans:        &BanRepository{store: s},
		Federations: &FederationRepository{store: s},
		Messages:    &MessageRepository{store: s},
		Rules:       &RulesRepository{store: s},
	}
}

func first(rows []store.Row) (store.Row, error) {
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return rows[0], nil
}

func now() time.Time { return time.Now().UTC() }

func ids(values []int64) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
