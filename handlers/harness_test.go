package handlers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/require"

	"tg-moderation-bot/authority"
	"tg-moderation-bot/cache"
	"tg-moderation-bot/database"
	"tg-moderation-bot/messages"
	"tg-moderation-bot/store"
	"tg-moderation-bot/telegram"
	"tg-moderation-bot/telegram/telegramtest"
	"tg-moderation-bot/tglog"
)

const (
	botID   int64 = 999
	ownerID int64 = 1
	adminID int64 = 10
	aliceID int64 = 20
	bobID   int64 = 30
	groupID int64 = -100
)

var names = map[int64]string{
	botID:   "modbot",
	ownerID: "owner",
	adminID: "ada",
	aliceID: "alice",
	bobID:   "bob",
}

type harness struct {
	t     *testing.T
	h     *Handler
	repos *database.Repositories
	mem   *store.Memory
	api   *telegramtest.Recorder
	auth  *authority.Authority
	now   time.Time
	seq   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := store.NewMemory(database.Indexes()...)
	api := telegramtest.New()
	api.SetAdmins(groupID,
		telegram.Member{ID: adminID, FirstName: "Ada", Username: "ada"},
		telegram.Member{ID: botID, IsBot: true, Username: "modbot"},
	)
	x := &harness{
		t:     t,
		repos: database.New(mem, 3),
		mem:   mem,
		api:   api,
		auth:  authority.New(api, cache.NewMemory(), time.Minute, time.Minute),
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	h, err := New(x.repos, api, x.auth, messages.MustLoad("en"), tglog.New(api, 0), Options{
		BotID:              botID,
		BotUsername:        "modbot",
		OwnerID:            ownerID,
		DefaultLocale:      "en",
		CaptchaTimeout:     5 * time.Minute,
		ServiceMessageTTL:  time.Minute,
		AdaShieldThreshold: 2,
		Now:                func() time.Time { return x.now },
	})
	require.NoError(t, err)
	x.h = h
	return x
}

func tgUser(id int64) models.User {
	return models.User{ID: id, FirstName: names[id], Username: names[id], IsBot: id == botID}
}

func groupChat() models.Chat {
	return models.Chat{ID: groupID, Type: models.ChatType("supergroup"), Title: "Gophers"}
}

func privateChat(id int64) models.Chat {
	return models.Chat{ID: id, Type: models.ChatType("private"), FirstName: names[id]}
}

func (x *harness) nextID() int {
	x.seq++
	return x.seq
}

// text builds a plain group message.
func (x *harness) text(from int64, text string, entities ...models.MessageEntity) *models.Update {
	u := tgUser(from)
	return &models.Update{
		ID: int64(x.nextID()),
		Message: &models.Message{
			ID:       x.nextID(),
			From:     &u,
			Chat:     groupChat(),
			Text:     text,
			Entities: entities,
		},
	}
}

// command builds a group message whose first word is a bot command.
func (x *harness) command(from int64, text string, entities ...models.MessageEntity) *models.Update {
	word, _, _ := strings.Cut(text, " ")
	all := append([]models.MessageEntity{{Type: models.MessageEntityType("bot_command"), Offset: 0, Length: len(word)}}, entities...)
	return x.text(from, text, all...)
}

// mention returns a mention entity for the first occurrence of handle in text.
func mention(text, handle string) models.MessageEntity {
	return models.MessageEntity{Type: models.MessageEntityType("mention"), Offset: strings.Index(text, handle), Length: len(handle)}
}

func replyTo(u *models.Update, author int64) *models.Update {
	from := tgUser(author)
	u.Message.ReplyToMessage = &models.Message{ID: 1, From: &from, Chat: groupChat(), Text: "original"}
	return u
}

func (x *harness) callback(from int64, data string, messageID int) *models.Update {
	bot := tgUser(botID)
	return &models.Update{
		ID: int64(x.nextID()),
		CallbackQuery: &models.CallbackQuery{
			ID:   "cb-" + data,
			From: tgUser(from),
			Data: data,
			Message: models.MaybeInaccessibleMessage{
				Message: &models.Message{ID: messageID, From: &bot, Chat: groupChat()},
			},
		},
	}
}

func (x *harness) joined(users ...int64) *models.Update {
	members := make([]models.User, 0, len(users))
	for _, id := range users {
		members = append(members, tgUser(id))
	}
	first := tgUser(users[0])
	return &models.Update{
		ID: int64(x.nextID()),
		Message: &models.Message{
			ID:             x.nextID(),
			From:           &first,
			Chat:           groupChat(),
			NewChatMembers: members,
		},
	}
}

func (x *harness) left(id int64) *models.Update {
	u := tgUser(id)
	return &models.Update{
		ID: int64(x.nextID()),
		Message: &models.Message{
			ID:             x.nextID(),
			From:           &u,
			Chat:           groupChat(),
			LeftChatMember: &u,
		},
	}
}

func (x *harness) handle(u *models.Update) {
	x.h.HandleUpdate(context.Background(), u)
}

// seed makes the group, its config and the given users known.
func (x *harness) seed(users ...int64) {
	for _, id := range users {
		x.handle(x.text(id, "hello"))
	}
	x.api.Reset()
}

func (x *harness) user(id int64) *database.User {
	u, err := x.repos.Users.GetByExternalID(context.Background(), id)
	require.NoError(x.t, err)
	return u
}

func (x *harness) chat() *database.Chat {
	c, err := x.repos.Chats.GetByExternalID(context.Background(), groupID)
	require.NoError(x.t, err)
	return c
}

// enable switches a config column on, creating the group first if needed.
func (x *harness) enable(column string) {
	ctx := context.Background()
	g := groupChat()
	_, err := x.repos.Chats.Ensure(ctx, database.Chat{ExternalID: g.ID, Title: g.Title, Type: database.ChatTypeSupergroup})
	require.NoError(x.t, err)
	n, err := x.repos.Chats.UpdateConfig(ctx, groupID, store.Row{column: true})
	require.NoError(x.t, err)
	require.EqualValues(x.t, 1, n, "config %s not updated", column)
}

// texts returns the text of every message sent so far.
func (x *harness) texts() []string {
	var out []string
	for _, m := range x.api.Sent() {
		out = append(out, m.Text)
	}
	return out
}

func (x *harness) activeWarnings(id int64) int64 {
	n, err := x.repos.Warnings.CountActive(context.Background(), x.user(id).ID, x.chat().ID)
	require.NoError(x.t, err)
	return n
}

// sentWith returns the sent messages whose text contains sub.
func (x *harness) sentWith(sub string) []telegram.Outgoing {
	var out []telegram.Outgoing
	for _, m := range x.api.Sent() {
		if strings.Contains(m.Text, sub) {
			out = append(out, m)
		}
	}
	return out
}
