package page_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelay/pkg/circuitbreaker"
	"carelay/pkg/page"
	"carelay/pkg/page/pagetest"
)

func TestFindChat(t *testing.T) {
	chats := []page.SidebarChat{
		{Title: "Alpha Calls"},
		{Title: "Alpha", HasUnread: true},
	}

	t.Run("exact", func(t *testing.T) {
		c, ok := page.FindChat(chats, "Alpha", page.MatchExact)
		require.True(t, ok)
		assert.True(t, c.HasUnread)
	})

	t.Run("substring takes first hit", func(t *testing.T) {
		c, ok := page.FindChat(chats, "Alpha", page.MatchSubstring)
		require.True(t, ok)
		assert.Equal(t, "Alpha Calls", c.Title)
	})

	t.Run("missing", func(t *testing.T) {
		_, ok := page.FindChat(chats, "Gamma", page.MatchExact)
		assert.False(t, ok)
	})
}

func TestWaitForTitle(t *testing.T) {
	ctx := context.Background()
	p := pagetest.New(&pagetest.Chat{Title: "Relay Room", FirstUnread: -1})
	p.Open("Relay Room")

	ok, err := page.WaitForTitle(ctx, p, "Relay", page.MatchSubstring, 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = page.WaitForTitle(ctx, p, "Relay", page.MatchExact, 30*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitForTitle_UnavailableIsNotFatal(t *testing.T) {
	p := pagetest.New()
	p.SetOffline(true)

	ok, err := page.WaitForTitle(context.Background(), p, "x", page.MatchExact, 20*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsConnected_DefaultsTrue(t *testing.T) {
	assert.True(t, page.IsConnected(pagetest.New()))
}

func TestPollingNotifier(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := page.PollingNotifier{Interval: 5 * time.Millisecond}.Changes(ctx)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no tick")
	}

	cancel()
	for range ch {
	}
}

func TestGuard_OpensAfterPageFailures(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cb := circuitbreaker.New("page", 2, time.Hour, logger,
		circuitbreaker.WithFailurePredicate(page.CountsAsPageFailure))
	p := pagetest.New(&pagetest.Chat{Title: "Alpha", FirstUnread: -1})
	g := page.Guard(p, cb)
	ctx := context.Background()

	p.SetOffline(true)
	for i := 0; i < 2; i++ {
		_, err := g.CurrentChatTitle(ctx)
		require.ErrorIs(t, err, page.ErrPageUnavailable)
	}
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())

	p.SetOffline(false)
	calls := len(p.Calls())
	_, err := g.ListSidebarChats(ctx)
	require.ErrorIs(t, err, page.ErrPageUnavailable)
	assert.Len(t, p.Calls(), calls, "open breaker must not reach the page")
}

func TestGuard_OrdinaryErrorsDoNotTrip(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cb := circuitbreaker.New("page", 1, time.Hour, logger,
		circuitbreaker.WithFailurePredicate(page.CountsAsPageFailure))
	g := page.Guard(pagetest.New(), cb)

	err := g.ClickChat(context.Background(), "Nope")
	require.Error(t, err)
	assert.False(t, errors.Is(err, page.ErrPageUnavailable))
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}
