package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-moderation-bot/database"
	"tg-moderation-bot/interval"
	"tg-moderation-bot/telegram"
)

func TestCaptchaChallenge(t *testing.T) {
	x := newHarness(t)
	x.seed(adminID)
	x.enable(database.ConfigCaptcha)
	ctx := context.Background()

	x.handle(x.joined(aliceID))

	restricts := x.api.Calls("restrict")
	require.Len(t, restricts, 1)
	assert.Equal(t, aliceID, restricts[0].UserID)
	assert.Equal(t, telegram.NoPermissions(), restricts[0].Permissions)

	rel, err := x.repos.Relations.Get(ctx, x.user(aliceID).ID, x.chat().ID)
	require.NoError(t, err)
	assert.True(t, rel.Joined)
	assert.False(t, rel.Checked)
	require.NotNil(t, rel.TTL)
	assert.WithinDuration(t, x.now.Add(x.h.opts.CaptchaTimeout), *rel.TTL, 0)

	challenges := x.sentWith("press the button within 5 min")
	require.Len(t, challenges, 1)
	assert.Equal(t, "captcha:20", challenges[0].Keyboard[0][0].Data)
}

func TestCaptchaWrongUserIgnored(t *testing.T) {
	x := newHarness(t)
	x.seed(bobID)
	x.enable(database.ConfigCaptcha)
	x.handle(x.joined(aliceID))
	x.api.Reset()

	x.handle(x.callback(bobID, "captcha:20", 1001))

	assert.Empty(t, x.api.Calls())
	rel, err := x.repos.Relations.Get(context.Background(), x.user(aliceID).ID, x.chat().ID)
	require.NoError(t, err)
	assert.False(t, rel.Checked)
}

func TestCaptchaConfirm(t *testing.T) {
	x := newHarness(t)
	x.enable(database.ConfigCaptcha)
	x.handle(x.joined(aliceID))
	challenge := x.sentWith("press the button")
	require.Len(t, challenge, 1)
	x.api.Reset()

	x.handle(x.callback(aliceID, "captcha:20", 1001))

	rel, err := x.repos.Relations.Get(context.Background(), x.user(aliceID).ID, x.chat().ID)
	require.NoError(t, err)
	assert.True(t, rel.Checked)
	assert.Nil(t, rel.TTL)

	restricts := x.api.Calls("restrict")
	require.Len(t, restricts, 1)
	assert.Equal(t, telegram.FullPermissions(), restricts[0].Permissions)
	assert.Equal(t, 1, x.api.Count("delete"))
	answers := x.api.Calls("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, "Welcome aboard!", answers[0].Message.Text)
	x.api.Reset()

	x.handle(x.callback(aliceID, "captcha:20", 1001))
	assert.Equal(t, 1, x.api.Count("answer"))
	assert.Empty(t, x.api.Moderation())
}

func TestCaptchaPressAfterKick(t *testing.T) {
	x := newHarness(t)
	x.seed(adminID)
	x.enable(database.ConfigCaptcha)
	x.handle(x.joined(aliceID))

	sweeper := interval.NewRelationSweeper(x.repos.Relations, x.api, interval.Options{
		Now: func() time.Time { return x.now.Add(10 * time.Minute) },
	})
	n, err := sweeper.Tick(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	x.api.Reset()

	x.handle(x.callback(aliceID, "captcha:20", 1001))

	rel, err := x.repos.Relations.Get(context.Background(), x.user(aliceID).ID, x.chat().ID)
	require.NoError(t, err)
	assert.False(t, rel.Joined)
	assert.False(t, rel.Checked)
	assert.Empty(t, x.api.Moderation())
	assert.Equal(t, 1, x.api.Count("answer"))
	assert.Empty(t, x.api.Sent())
}

func TestCaptchaSkipsBots(t *testing.T) {
	x := newHarness(t)
	x.enable(database.ConfigCaptcha)
	names[555] = "helperbot"
	defer delete(names, 555)

	u := x.joined(555)
	u.Message.NewChatMembers[0].IsBot = true
	x.handle(u)

	assert.Empty(t, x.api.Moderation())
	rel, err := x.repos.Relations.Get(context.Background(), x.user(555).ID, x.chat().ID)
	require.NoError(t, err)
	assert.True(t, rel.Checked)
}

func TestJoinGreetsAndRestricts(t *testing.T) {
	x := newHarness(t)
	x.enable(database.ConfigGreetings)
	x.enable(database.ConfigRestrictNewUsers)

	x.handle(x.joined(aliceID))

	restricts := x.api.Calls("restrict")
	require.Len(t, restricts, 1)
	assert.Equal(t, telegram.NewcomerPermissions(), restricts[0].Permissions)
	assert.Equal(t, x.now.Add(NewcomerWindow), restricts[0].Until)
	assert.Len(t, x.sentWith("Welcome, "), 1)
}

func TestCustomGreeting(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)
	x.handle(x.command(adminID, "/greetings on"))
	x.handle(x.command(adminID, "/greetings set Hello {user}, read the <rules>"))
	x.api.Reset()

	x.handle(x.joined(bobID))

	sent := x.sentWith("Hello ")
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, `tg://user?id=30`)
	assert.Contains(t, sent[0].Text, "&lt;rules&gt;")
}

func TestAdaShieldBansKnownOffender(t *testing.T) {
	x := newHarness(t)
	x.enable(database.ConfigAdaShield)
	ctx := context.Background()

	alice, err := x.repos.Users.Ensure(ctx, database.User{ExternalID: aliceID, FirstName: "alice"})
	require.NoError(t, err)
	for _, ext := range []int64{-201, -202} {
		c, err := x.repos.Chats.Ensure(ctx, database.Chat{ExternalID: ext, Title: "other", Type: database.ChatTypeSupergroup})
		require.NoError(t, err)
		_, err = x.repos.Bans.Add(ctx, database.Ban{UserID: alice.ID, ChatID: c.ID, Reason: "spam"})
		require.NoError(t, err)
	}

	x.handle(x.joined(aliceID, bobID))

	bans := x.api.Calls("ban")
	require.Len(t, bans, 1)
	assert.Equal(t, aliceID, bans[0].UserID)
	assert.Len(t, x.sentWith("banned in 2 other chats"), 1)

	rows, err := x.repos.Bans.ListByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestLeaveSaysGoodbye(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)
	x.enable(database.ConfigGoodbye)

	x.handle(x.left(aliceID))

	rel, err := x.repos.Relations.Get(context.Background(), x.user(aliceID).ID, x.chat().ID)
	require.NoError(t, err)
	assert.False(t, rel.Joined)
	assert.Len(t, x.sentWith("alice"), 1)
}

func TestServiceMessagesTracked(t *testing.T) {
	x := newHarness(t)
	u := x.joined(aliceID)

	x.handle(u)

	expired, err := x.repos.Messages.Expired(context.Background(), x.now.Add(2*x.h.opts.ServiceMessageTTL))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, u.Message.ID, expired[0].MessageID)
}

func TestBotMembershipUpdatesChat(t *testing.T) {
	x := newHarness(t)
	x.seed(aliceID)
	bot := tgUser(botID)

	x.handle(&models.Update{
		ID: 500,
		MyChatMember: &models.ChatMemberUpdated{
			Chat: groupChat(),
			From: tgUser(adminID),
			NewChatMember: models.ChatMember{
				Type: models.ChatMemberTypeLeft,
				Left: &models.ChatMemberLeft{User: &bot},
			},
		},
	})

	assert.False(t, x.chat().IsMember)
}
