package interval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-moderation-bot/database"
	"tg-moderation-bot/store"
	"tg-moderation-bot/telegram/telegramtest"
)

const (
	chatID int64 = -100
	userID int64 = 20
)

type fixture struct {
	repos *database.Repositories
	mem   *store.Memory
	api   *telegramtest.Recorder
	now   time.Time
	opts  Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory(database.Indexes()...)
	f := &fixture{
		repos: database.New(mem, 3),
		mem:   mem,
		api:   telegramtest.New(),
		now:   time.Now().UTC(),
	}
	f.opts = Options{Period: 10 * time.Millisecond, CallTimeout: time.Second, Now: func() time.Time { return f.now }}
	return f
}

// pending seeds a member whose captcha deadline passed a minute ago.
func (f *fixture) pending(t *testing.T, userExt int64) *database.Relation {
	t.Helper()
	ctx := context.Background()
	c, err := f.repos.Chats.Ensure(ctx, database.Chat{ExternalID: chatID, Title: "Gophers", Type: database.ChatTypeSupergroup})
	require.NoError(t, err)
	u, err := f.repos.Users.Ensure(ctx, database.User{ExternalID: userExt, FirstName: "alice"})
	require.NoError(t, err)
	deadline := f.now.Add(-time.Minute)
	rel, err := f.repos.Relations.Join(ctx, u.ID, c.ID, &deadline)
	require.NoError(t, err)
	return rel
}

func TestTickWithNothingExpired(t *testing.T) {
	f := newFixture(t)

	for _, s := range []*Sweeper{
		NewRelationSweeper(f.repos.Relations, f.api, f.opts),
		NewMessageSweeper(f.repos.Messages, f.api, f.opts),
	} {
		n, err := s.Tick(context.Background())
		require.NoError(t, err, s.Name())
		assert.Zero(t, n)
		assert.Equal(t, int64(1), s.Ticks())
	}
	assert.Empty(t, f.api.Calls())
	assert.Zero(t, f.mem.Writes())
}

func TestRelationSweeperKicksUnverified(t *testing.T) {
	f := newFixture(t)
	rel := f.pending(t, userID)
	s := NewRelationSweeper(f.repos.Relations, f.api, f.opts)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	unbans := f.api.Calls("unban")
	require.Len(t, unbans, 1)
	assert.Equal(t, chatID, unbans[0].ChatID)
	assert.Equal(t, userID, unbans[0].UserID)
	assert.False(t, unbans[0].OnlyIfBanned)

	got, err := f.repos.Relations.Get(context.Background(), rel.UserID, rel.ChatID)
	require.NoError(t, err)
	assert.False(t, got.Joined)
	assert.Nil(t, got.TTL)

	n, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.api.Calls("unban"), 1)
}

func TestRelationSweeperSkipsConfirmed(t *testing.T) {
	f := newFixture(t)
	rel := f.pending(t, userID)
	_, err := f.repos.Relations.Confirm(context.Background(), rel.UserID, rel.ChatID)
	require.NoError(t, err)

	n, err := NewRelationSweeper(f.repos.Relations, f.api, f.opts).Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.api.Calls())
}

func TestMessageSweeperDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repos.Messages.Track(ctx, chatID, 42, f.now.Add(-time.Second))
	require.NoError(t, err)
	_, err = f.repos.Messages.Track(ctx, chatID, 43, f.now.Add(time.Hour))
	require.NoError(t, err)
	s := NewMessageSweeper(f.repos.Messages, f.api, f.opts)

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	deletes := f.api.Calls("delete")
	require.Len(t, deletes, 1)
	assert.Equal(t, 42, deletes[0].MessageID)

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRejectedCallIsSettled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.repos.Messages.Track(ctx, chatID, 42, f.now.Add(-time.Second))
	require.NoError(t, err)
	f.api.Fail("delete", errors.New("message to delete not found"))

	n, err := NewMessageSweeper(f.repos.Messages, f.api, f.opts).Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTimedOutCallIsRetried(t *testing.T) {
	f := newFixture(t)
	f.pending(t, userID)
	f.api.Block = make(chan struct{})
	f.opts.CallTimeout = 20 * time.Millisecond
	s := NewRelationSweeper(f.repos.Relations, f.api, f.opts)

	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	expired, err := f.repos.Relations.Expired(context.Background(), f.now)
	require.NoError(t, err)
	assert.Len(t, expired, 1)
}

func TestBlockedCallDoesNotStopNextTick(t *testing.T) {
	f := newFixture(t)
	f.pending(t, userID)
	f.api.Block = make(chan struct{})
	s := NewRelationSweeper(f.repos.Relations, f.api, f.opts)
	ctx := context.Background()

	first := make(chan int64, 1)
	go func() {
		n, _ := s.Tick(ctx)
		first <- n
	}()
	require.Eventually(t, func() bool { return s.InFlight() == 1 }, time.Second, 5*time.Millisecond)

	second := make(chan int64, 1)
	go func() {
		n, _ := s.Tick(ctx)
		second <- n
	}()
	select {
	case n := <-second:
		assert.Zero(t, n, "the blocked row is not picked up twice")
	case <-time.After(time.Second):
		t.Fatal("second tick waited for the blocked call")
	}

	close(f.api.Block)
	assert.Equal(t, int64(1), <-first)
	assert.Len(t, f.api.Calls("unban"), 1)
}

func TestRunKeepsTicking(t *testing.T) {
	f := newFixture(t)
	s := NewMessageSweeper(f.repos.Messages, f.api, f.opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Ticks() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, f.api.Calls())
	assert.Zero(t, f.mem.Writes())
}
