package database

import (
	"context"
	"strings"

	"tg-moderation-bot/store"
)

// BanRepository is the append-only ban audit trail.
type BanRepository struct {
	store store.Store
}

func (r *BanRepository) Add(ctx context.Context, ban Ban) (int64, error) {
	return r.store.Insert(ctx, TableBans, store.Row{
		"user_id":       ban.UserID,
		"chat_id":       ban.ChatID,
		"federation_id": nullable(ban.FederationID),
		"reason":        strings.TrimSpace(ban.Reason),
		"created_at":    now(),
	})
}

func (r *BanRepository) ListByUser(ctx context.Context, userID int64) ([]Ban, error) {
	rows, err := r.store.Select(ctx, store.From(TableBans).Eq("user_id", userID).OrderBy("id", false))
	if err != nil {
		return nil, err
	}
	out := make([]Ban, 0, len(rows))
	for _, row := range rows {
		out = append(out, Ban{
			ID:           row.Int64("id"),
			UserID:       row.Int64("user_id"),
			ChatID:       row.Int64("chat_id"),
			FederationID: row.Int64Ptr("federation_id"),
			Reason:       row.String("reason"),
			CreatedAt:    row.Time("created_at"),
		})
	}
	return out, nil
}

// CountOtherChats counts the distinct chats other than exceptChatID where
// userID has a recorded ban.
func (r *BanRepository) CountOtherChats(ctx context.Context, userID, exceptChatID int64) (int, error) {
	bans, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	seen := make(map[int64]struct{})
	for _, b := range bans {
		if b.ChatID != exceptChatID {
			seen[b.ChatID] = struct{}{}
		}
	}
	return len(seen), nil
}
