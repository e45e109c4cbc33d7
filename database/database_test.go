package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-moderation-bot/store"
)

func newTestRepos(t *testing.T) (*Repositories, *store.Memory) {
	t.Helper()
	mem := store.NewMemory(Indexes()...)
	return New(mem, 0), mem
}

func seedChat(t *testing.T, repos *Repositories, externalID int64) *Chat {
	t.Helper()
	c, err := repos.Chats.Ensure(context.Background(), Chat{ExternalID: externalID, Title: gofakeit.Company(), Type: ChatTypeSupergroup})
	require.NoError(t, err)
	return c
}

func seedUser(t *testing.T, repos *Repositories, externalID int64) *User {
	t.Helper()
	u, err := repos.Users.Ensure(context.Background(), User{ExternalID: externalID, FirstName: gofakeit.FirstName(), Username: gofakeit.Username()})
	require.NoError(t, err)
	return u
}

func TestChatEnsureCreatesConfigOnce(t *testing.T) {
	repos, mem := newTestRepos(t)
	ctx := context.Background()

	c := seedChat(t, repos, -100)
	assert.NotZero(t, c.Config.ID)
	assert.Equal(t, DefaultWarnLimit, c.Config.WarnLimit)
	assert.True(t, c.IsMember)

	again, err := repos.Chats.Ensure(ctx, Chat{ExternalID: -100, Title: "renamed", Type: ChatTypeSupergroup})
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "renamed", again.Title)

	n, err := mem.Count(ctx, store.From(TableChatConfigs))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestChatEnsureConcurrent(t *testing.T) {
	repos, mem := newTestRepos(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Chats.Ensure(ctx, Chat{ExternalID: -200, Type: ChatTypeGroup})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	chats, err := mem.Count(ctx, store.From(TableChats))
	require.NoError(t, err)
	configs, err := mem.Count(ctx, store.From(TableChatConfigs))
	require.NoError(t, err)
	assert.EqualValues(t, 1, chats)
	assert.EqualValues(t, 1, configs)
}

func TestUpdateConfigMissingChat(t *testing.T) {
	repos, mem := newTestRepos(t)

	n, err := repos.Chats.UpdateConfig(context.Background(), -1, store.Row{ConfigCaptcha: true})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, mem.Writes())
}

func TestUpdateConfig(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	seedChat(t, repos, -100)

	n, err := repos.Chats.UpdateConfig(ctx, -100, store.Row{ConfigCaptcha: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	c, err := repos.Chats.GetByExternalID(ctx, -100)
	require.NoError(t, err)
	assert.True(t, c.Config.Captcha)
	assert.False(t, c.Config.AdaShield)
}

func TestUserEnsureRefreshesProfile(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	_, err := repos.Users.Ensure(ctx, User{ExternalID: 7, FirstName: "Ann", Username: "ann"})
	require.NoError(t, err)
	u, err := repos.Users.Ensure(ctx, User{ExternalID: 7, FirstName: "Anna", Username: "Anna_K"})
	require.NoError(t, err)
	assert.Equal(t, "Anna", u.FirstName)

	byName, err := repos.Users.GetByUsername(ctx, "@anna_k")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	// A bare seed keeps the stored profile.
	bare, err := repos.Users.Ensure(ctx, User{ExternalID: 7})
	require.NoError(t, err)
	assert.Equal(t, "Anna", bare.FirstName)

	_, err = repos.Users.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRelationEnsureConcurrent(t *testing.T) {
	repos, mem := newTestRepos(t)
	ctx := context.Background()
	c := seedChat(t, repos, -100)
	u := seedUser(t, repos, 42)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repos.Relations.Ensure(ctx, u.ID, c.ID, true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := mem.Count(ctx, store.From(TableRelations))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rel, err := repos.Relations.Get(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.True(t, rel.Joined)
}

func TestConfirmAfterExpiry(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	c := seedChat(t, repos, -100)
	u := seedUser(t, repos, 42)

	deadline := time.Now().Add(-time.Second)
	rel, err := repos.Relations.Join(ctx, u.ID, c.ID, &deadline)
	require.NoError(t, err)
	_, err = repos.Relations.MarkExpired(ctx, []int64{rel.ID})
	require.NoError(t, err)

	n, err := repos.Relations.Confirm(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	rel, err = repos.Relations.Get(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, rel.Checked)
}

func TestRelationLifecycle(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	c := seedChat(t, repos, -100)
	u := seedUser(t, repos, 42)

	deadline := time.Now().Add(-time.Second)
	rel, err := repos.Relations.Join(ctx, u.ID, c.ID, &deadline)
	require.NoError(t, err)
	assert.True(t, rel.Joined)
	assert.False(t, rel.Checked)
	require.NotNil(t, rel.TTL)

	pending, err := repos.Relations.Expired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(42), pending[0].UserExternalID)
	assert.Equal(t, int64(-100), pending[0].ChatExternalID)

	n, err := repos.Relations.Confirm(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repos.Relations.Confirm(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.Zero(t, n, "confirm is gated on checked=false")

	pending, err = repos.Relations.Expired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = repos.Relations.Leave(ctx, u.ID, c.ID)
	require.NoError(t, err)
	rel, err = repos.Relations.Get(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, rel.Joined)
	assert.False(t, rel.Checked)
	assert.Nil(t, rel.TTL)
}

func TestRelationMarkExpired(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	c := seedChat(t, repos, -100)
	u := seedUser(t, repos, 42)
	deadline := time.Now().Add(-time.Minute)
	rel, err := repos.Relations.Join(ctx, u.ID, c.ID, &deadline)
	require.NoError(t, err)

	n, err := repos.Relations.MarkExpired(ctx, []int64{rel.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repos.Relations.MarkExpired(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	rel, err = repos.Relations.Get(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, rel.Joined)
	assert.Nil(t, rel.TTL)
}

func TestWarningRemovalIsSoft(t *testing.T) {
	repos, mem := newTestRepos(t)
	ctx := context.Background()
	c := seedChat(t, repos, -100)
	u := seedUser(t, repos, 42)

	for i := 0; i < 3; i++ {
		_, err := repos.Warnings.Add(ctx, u.ID, c.ID, "")
		require.NoError(t, err)
	}
	last, err := repos.Warnings.Last(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultWarnReason, last.Reason)

	n, err := repos.Warnings.Remove(ctx, u.ID, c.ID, &last.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	active, err := repos.Warnings.CountActive(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, active)

	n, err = repos.Warnings.Remove(ctx, u.ID, c.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	active, err = repos.Warnings.CountActive(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.Zero(t, active)

	total, err := mem.Count(ctx, store.From(TableWarnings))
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestBanCountOtherChats(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	u := seedUser(t, repos, 42)
	a := seedChat(t, repos, -1)
	b := seedChat(t, repos, -2)
	home := seedChat(t, repos, -3)

	for _, chat := range []*Chat{a, a, b, home} {
		_, err := repos.Bans.Add(ctx, Ban{UserID: u.ID, ChatID: chat.ID, Reason: "spam"})
		require.NoError(t, err)
	}
	n, err := repos.Bans.CountOtherChats(ctx, u.ID, home.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFederationJoinLeaveGuards(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	c := seedChat(t, repos, -100)

	fed, err := repos.Federations.Create(ctx, 1, "friends")
	require.NoError(t, err)
	found, err := repos.Federations.GetByHash(ctx, fed.Hash)
	require.NoError(t, err)
	assert.Equal(t, fed.ID, found.ID)

	n, err := repos.Chats.LeaveFederation(ctx, c.ID, fed.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repos.Chats.JoinFederation(ctx, c.ID, fed.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = repos.Chats.JoinFederation(ctx, c.ID, fed.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	chats, err := repos.Chats.ListByFederation(ctx, fed.ID)
	require.NoError(t, err)
	assert.Len(t, chats, 1)

	n, err = repos.Chats.LeaveFederation(ctx, c.ID, fed.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	got, err := repos.Chats.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.FederationID)
}

func TestMessagesExpiry(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	past, err := repos.Messages.Track(ctx, -100, 10, time.Now().Add(-time.Second))
	require.NoError(t, err)
	_, err = repos.Messages.Track(ctx, -100, 11, time.Now().Add(time.Hour))
	require.NoError(t, err)

	expired, err := repos.Messages.Expired(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, 10, expired[0].MessageID)

	n, err := repos.Messages.MarkDeleted(ctx, []int64{past})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	expired, err = repos.Messages.Expired(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestRulesUpsert(t *testing.T) {
	repos, mem := newTestRepos(t)
	ctx := context.Background()
	c := seedChat(t, repos, -100)

	_, err := repos.Rules.Get(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repos.Rules.Set(ctx, c.ID, "be nice"))
	require.NoError(t, repos.Rules.Set(ctx, c.ID, "be nicer"))

	r, err := repos.Rules.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "be nicer", r.Text)
	n, err := mem.Count(ctx, store.From(TableRules))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = repos.Rules.Delete(ctx, c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
