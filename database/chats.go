package database

import (
	"context"
	"errors"
	"fmt"

	"tg-moderation-bot/store"
)

var configColumns = []store.Column{
	store.As("id", "config_id"),
	store.Col(ConfigGreetings),
	store.Col(ConfigGreetingText),
	store.Col(ConfigGoodbye),
	store.Col(ConfigRestrictNewUsers),
	store.Col(ConfigCaptcha),
	store.Col(ConfigAskToAsk),
	store.Col(ConfigAdaShield),
	store.Col(ConfigWarnLimit),
}

type ChatRepository struct {
	store     store.Store
	warnLimit int
}

func (r *ChatRepository) query() *store.Query {
	return store.From(TableChats).LeftJoin(TableChatConfigs, "id", "chat_id", configColumns...)
}

// GetByExternalID returns the chat with its configuration joined in.
func (r *ChatRepository) GetByExternalID(ctx context.Context, externalID int64) (*Chat, error) {
	rows, err := r.store.Select(ctx, r.query().Eq("external_id", externalID).Take(1))
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return r.scan(row), nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id int64) (*Chat, error) {
	rows, err := r.store.Select(ctx, r.query().Eq("id", id).Take(1))
	if err != nil {
		return nil, err
	}
	row, err := first(rows)
	if err != nil {
		return nil, err
	}
	return r.scan(row), nil
}

// Create inserts the chat and its default configuration row.
func (r *ChatRepository) Create(ctx context.Context, seed Chat) (int64, error) {
	t := now()
	id, err := r.store.Insert(ctx, TableChats, store.Row{
		"external_id":   seed.ExternalID,
		"title":         seed.Title,
		"type":          seed.Type,
		"is_member":     true,
		"federation_id": nil,
		"created_at":    t,
		"updated_at":    t,
	})
	if err != nil {
		return 0, err
	}
	if err := r.createConfig(ctx, id); err != nil {
		return id, err
	}
	return id, nil
}

func (r *ChatRepository) createConfig(ctx context.Context, chatID int64) error {
	_, err := r.store.Insert(ctx, TableChatConfigs, store.Row{
		"chat_id":              chatID,
		ConfigGreetings:        false,
		ConfigGreetingText:     "",
		ConfigGoodbye:          false,
		ConfigRestrictNewUsers: false,
		ConfigCaptcha:          false,
		ConfigAskToAsk:         false,
		ConfigAdaShield:        false,
		ConfigWarnLimit:        int64(r.warnLimit),
	})
	if errors.Is(err, store.ErrDuplicateKey) {
		return nil
	}
	return err
}

// Update patches the chat row itself, not its configuration.
func (r *ChatRepository) Update(ctx context.Context, externalID int64, patch store.Row) (int64, error) {
	patch["updated_at"] = now()
	return r.store.Update(ctx, store.From(TableChats).Eq("external_id", externalID), patch)
}

// Ensure returns the chat for seed.ExternalID, creating it on first sight
// and refreshing title and type afterwards.
func (r *ChatRepository) Ensure(ctx context.Context, seed Chat) (*Chat, error) {
	c, err := r.GetByExternalID(ctx, seed.ExternalID)
	if errors.Is(err, ErrNotFound) {
		if _, err := r.Create(ctx, seed); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("database: create chat %d: %w", seed.ExternalID, err)
		}
		return r.GetByExternalID(ctx, seed.ExternalID)
	}
	if err != nil {
		return nil, err
	}

	if c.Config.ID == 0 {
		if err := r.createConfig(ctx, c.ID); err != nil {
			return nil, err
		}
		return r.GetByExternalID(ctx, seed.ExternalID)
	}

	if (seed.Title != "" && seed.Title != c.Title) || (seed.Type != "" && seed.Type != c.Type) {
		patch := store.Row{}
		if seed.Title != "" {
			patch["title"] = seed.Title
			c.Title = seed.Title
		}
		if seed.Type != "" {
			patch["type"] = seed.Type
			c.Type = seed.Type
		}
		if _, err := r.Update(ctx, seed.ExternalID, patch); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// UpdateConfig writes patch to the chat's configuration row. A chat that does
// not exist yields 0 affected rows and no write.
func (r *ChatRepository) UpdateConfig(ctx context.Context, externalID int64, patch store.Row) (int64, error) {
	c, err := r.GetByExternalID(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return r.store.Update(ctx, store.From(TableChatConfigs).Eq("chat_id", c.ID), patch)
}

func (r *ChatRepository) SetMember(ctx context.Context, externalID int64, member bool) (int64, error) {
	return r.Update(ctx, externalID, store.Row{"is_member": member})
}

// JoinFederation sets the federation only when the chat has none.
func (r *ChatRepository) JoinFederation(ctx context.Context, chatID, federationID int64) (int64, error) {
	return r.store.Update(ctx,
		store.From(TableChats).Eq("id", chatID).IsNull("federation_id"),
		store.Row{"federation_id": federationID, "updated_at": now()})
}

// LeaveFederation clears the federation only when it is federationID.
func (r *ChatRepository) LeaveFederation(ctx context.Context, chatID, federationID int64) (int64, error) {
	return r.store.Update(ctx,
		store.From(TableChats).Eq("id", chatID).Eq("federation_id", federationID),
		store.Row{"federation_id": nil, "updated_at": now()})
}

func (r *ChatRepository) ListByFederation(ctx context.Context, federationID int64) ([]Chat, error) {
	rows, err := r.store.Select(ctx, r.query().Eq("federation_id", federationID).OrderBy("id", false))
	if err != nil {
		return nil, err
	}
	chats := make([]Chat, 0, len(rows))
	for _, row := range rows {
		chats = append(chats, *r.scan(row))
	}
	return chats, nil
}

func (r *ChatRepository) scan(row store.Row) *Chat {
	c := &Chat{
		ID:           row.Int64("id"),
		ExternalID:   row.Int64("external_id"),
		Title:        row.String("title"),
		Type:         row.String("type"),
		IsMember:     row.Bool("is_member"),
		FederationID: row.Int64Ptr("federation_id"),
		CreatedAt:    row.Time("created_at"),
	}
	if row.Has("config_id") {
		c.Config = ChatConfig{
			ID:               row.Int64("config_id"),
			Greetings:        row.Bool(ConfigGreetings),
			GreetingText:     row.String(ConfigGreetingText),
			Goodbye:          row.Bool(ConfigGoodbye),
			RestrictNewUsers: row.Bool(ConfigRestrictNewUsers),
			Captcha:          row.Bool(ConfigCaptcha),
			AskToAsk:         row.Bool(ConfigAskToAsk),
			AdaShield:        row.Bool(ConfigAdaShield),
			WarnLimit:        int(row.Int64(ConfigWarnLimit)),
		}
	}
	if c.Config.WarnLimit <= 0 {
		c.Config.WarnLimit = r.warnLimit
	}
	return c
}
