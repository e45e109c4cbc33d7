package handlers

import (
	"context"
	"sync"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-moderation-bot/database"
	"tg-moderation-bot/store"
)

func TestUnrecognizedUpdateDropped(t *testing.T) {
	x := newHarness(t)

	assert.NotPanics(t, func() {
		x.h.HandleUpdate(context.Background(), nil)
		x.h.HandleUpdate(context.Background(), &models.Update{ID: 77})
	})
	assert.Zero(t, x.mem.Writes())
	assert.Empty(t, x.api.Calls())
}

func TestPrepareCreatesEntitiesOnce(t *testing.T) {
	x := newHarness(t)

	updates := make([]*models.Update, 8)
	for i := range updates {
		updates[i] = x.text(aliceID, "hello")
	}
	var wg sync.WaitGroup
	for _, u := range updates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x.handle(u)
		}()
	}
	wg.Wait()

	ctx := context.Background()
	for _, table := range []string{database.TableChats, database.TableUsers, database.TableRelations} {
		rows, err := x.mem.Select(ctx, store.From(table))
		require.NoError(t, err)
		assert.Len(t, rows, 1, table)
	}
	rel, err := x.repos.Relations.Get(ctx, x.user(aliceID).ID, x.chat().ID)
	require.NoError(t, err)
	assert.True(t, rel.Joined)
	assert.True(t, rel.Checked)
}

func TestPrepareRefreshesUser(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)

	u := x.text(aliceID, "hello")
	u.Message.From.Username = "alice_new"
	x.handle(u)

	assert.Equal(t, "alice_new", x.user(aliceID).Username)
}

func TestRepeatedMessagesWriteNothing(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)
	writes := x.mem.Writes()

	x.handle(x.text(aliceID, "still here"))

	assert.Equal(t, writes, x.mem.Writes())
}

func TestBanConvergesOnOneRow(t *testing.T) {
	tests := []struct {
		name   string
		update func(x *harness) *models.Update
	}{
		{"reply", func(x *harness) *models.Update {
			return replyTo(x.command(adminID, "/ban"), aliceID)
		}},
		{"mention", func(x *harness) *models.Update {
			text := "/ban @alice"
			return x.command(adminID, text, mention(text, "@alice"))
		}},
		{"id", func(x *harness) *models.Update {
			return x.command(adminID, "/ban 20")
		}},
		{"anonymous admin", func(x *harness) *models.Update {
			u := replyTo(x.command(adminID, "/ban"), aliceID)
			u.Message.From = &models.User{ID: 1087968824, IsBot: true, FirstName: "Group", Username: "GroupAnonymousBot"}
			sender := groupChat()
			u.Message.SenderChat = &sender
			return u
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := newHarness(t)
			x.seed(aliceID)

			x.handle(tt.update(x))

			bans := x.api.Calls("ban")
			require.Len(t, bans, 1)
			assert.Equal(t, groupID, bans[0].ChatID)
			assert.Equal(t, aliceID, bans[0].UserID)

			rows, err := x.repos.Bans.ListByUser(context.Background(), x.user(aliceID).ID)
			require.NoError(t, err)
			assert.Len(t, rows, 1)
			assert.Len(t, x.sentWith("has been banned"), 1)
			assert.Empty(t, x.sentWith("not allowed"))
		})
	}
}

func TestBanReasonIsKept(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)

	x.handle(replyTo(x.command(adminID, "/ban spam links"), aliceID))

	rows, err := x.repos.Bans.ListByUser(context.Background(), x.user(aliceID).ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "spam links", rows[0].Reason)
	assert.Len(t, x.sentWith("Reason: spam links"), 1)
}

func TestBanRemoteFailureWritesNothing(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)
	x.api.Fail("ban", assert.AnError)

	x.handle(replyTo(x.command(adminID, "/ban"), aliceID))

	rows, err := x.repos.Bans.ListByUser(context.Background(), x.user(aliceID).ID)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Len(t, x.sentWith(assert.AnError.Error()), 1)
}

func TestBanProtectsAdmins(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)

	x.handle(replyTo(x.command(adminID, "/ban"), adminID))
	x.handle(replyTo(x.command(adminID, "/ban"), botID))

	assert.Empty(t, x.api.Calls("ban"))
	assert.Len(t, x.sentWith("is an administrator"), 2)
}

func TestUnauthorizedCommandAlertsAdmins(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID, bobID)
	writes := x.mem.Writes()

	x.handle(replyTo(x.command(aliceID, "/ban"), bobID))

	assert.Empty(t, x.api.Moderation())
	assert.Equal(t, writes, x.mem.Writes())

	refusal := x.sentWith("you are not allowed to use /ban")
	require.Len(t, refusal, 1)
	assert.Equal(t, groupID, refusal[0].ChatID)

	alerts := x.sentWith("tried to use /ban")
	require.Len(t, alerts, 1, "the bot admin is skipped")
	assert.Equal(t, adminID, alerts[0].ChatID)
	assert.Contains(t, alerts[0].Text, "Gophers")
}

func TestCommandInPrivateChatIsGroupOnly(t *testing.T) {
	x := newHarness(t)
	u := x.command(adminID, "/ban 20")
	u.Message.Chat = privateChat(adminID)

	x.handle(u)

	assert.Empty(t, x.api.Moderation())
	assert.Len(t, x.sentWith("works in groups only"), 1)
}

func TestKickLeavesRelation(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)

	x.handle(replyTo(x.command(adminID, "/kick"), aliceID))

	unbans := x.api.Calls("unban")
	require.Len(t, unbans, 1)
	assert.False(t, unbans[0].OnlyIfBanned)

	rel, err := x.repos.Relations.Get(context.Background(), x.user(aliceID).ID, x.chat().ID)
	require.NoError(t, err)
	assert.False(t, rel.Joined)
}

func TestUnbanOnlyIfBanned(t *testing.T) {
	x := newHarness(t)

	x.handle(x.command(adminID, "/unban 20"))

	unbans := x.api.Calls("unban")
	require.Len(t, unbans, 1)
	assert.True(t, unbans[0].OnlyIfBanned)
	assert.Len(t, x.sentWith("has been unbanned"), 1)
}

func TestCommandForAnotherBotIgnored(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)

	x.handle(x.command(adminID, "/ban@otherbot 20"))

	assert.Empty(t, x.api.Calls())
}
