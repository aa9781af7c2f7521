package wsbridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelay/internal/metrics"
	"carelay/pkg/page"
	"carelay/pkg/page/pagetest"
)

// shim plays the browser side, answering requests from a fake page.
type shim struct {
	conn  *websocket.Conn
	page  *pagetest.Page
	mute  bool
	errOp string
}

func (s *shim) serve(ctx context.Context) {
	for {
		var req struct {
			ID   uint64            `json:"id"`
			Op   string            `json:"op"`
			Args map[string]string `json:"args"`
		}
		if err := wsjson.Read(ctx, s.conn, &req); err != nil {
			return
		}
		if s.mute {
			continue
		}
		out := Inbound{ID: req.ID}
		if req.Op == s.errOp {
			out.Error = "boom"
		} else {
			res, err := s.dispatch(ctx, req.Op, req.Args)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.OK = true
				out.Result, _ = json.Marshal(res)
			}
		}
		if err := wsjson.Write(ctx, s.conn, out); err != nil {
			return
		}
	}
}

func (s *shim) dispatch(ctx context.Context, op string, args map[string]string) (interface{}, error) {
	switch op {
	case OpCurrentChatTitle:
		t, err := s.page.CurrentChatTitle(ctx)
		return map[string]string{"title": t}, err
	case OpListSidebarChats:
		c, err := s.page.ListSidebarChats(ctx)
		return map[string]interface{}{"chats": c}, err
	case OpClickChat:
		return struct{}{}, s.page.ClickChat(ctx, args["title"])
	case OpHasMessageList:
		ok, err := s.page.HasMessageList(ctx)
		return map[string]bool{"present": ok}, err
	case OpFirstUnreadMarker:
		el, found, err := s.page.FirstUnreadMarker(ctx)
		return map[string]interface{}{"element": el, "found": found}, err
	case OpListMessageElements:
		els, err := s.page.ListMessageElements(ctx)
		return map[string]interface{}{"elements": els}, err
	case OpScrollIntoView:
		return struct{}{}, s.page.ScrollIntoView(ctx, page.Element(args["element"]), page.Block(args["block"]))
	case OpExtractRawMessage:
		m, err := s.page.ExtractRawMessage(ctx, page.Element(args["element"]))
		return map[string]interface{}{"message": m}, err
	case OpComposeAndSend:
		sent, err := s.page.ComposeAndSend(ctx, args["text"])
		return map[string]bool{"sent": sent}, err
	}
	return nil, nil
}

func setup(t *testing.T, timeout time.Duration) (*Bridge, *httptest.Server, *metrics.Metrics) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())
	b := New(Config{CallTimeout: timeout}, logger, m)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv, m
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func waitConnected(t *testing.T, b *Bridge, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Connected() == want }, time.Second, 5*time.Millisecond)
}

func TestBridge_NoConnection(t *testing.T) {
	b, _, _ := setup(t, time.Second)

	_, err := b.CurrentChatTitle(context.Background())
	assert.ErrorIs(t, err, page.ErrPageUnavailable)
	assert.False(t, b.Connected())
}

func TestBridge_RoundTrips(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, srv, m := setup(t, time.Second)
	fake := pagetest.New(
		&pagetest.Chat{Title: "Alpha", Unread: true, FirstUnread: 0, Messages: []pagetest.Message{
			{ID: "m1", Timestamp: 1700000000, Text: "hello"},
		}},
		&pagetest.Chat{Title: "Relay", FirstUnread: -1},
	)
	s := &shim{conn: dial(t, ctx, srv), page: fake}
	go s.serve(ctx)
	waitConnected(t, b, true)

	chats, err := b.ListSidebarChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []page.SidebarChat{{Title: "Alpha", HasUnread: true}, {Title: "Relay"}}, chats)

	require.NoError(t, b.ClickChat(ctx, "Alpha"))
	title, err := b.CurrentChatTitle(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", title)

	present, err := b.HasMessageList(ctx)
	require.NoError(t, err)
	assert.True(t, present)

	el, found, err := b.FirstUnreadMarker(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, b.ScrollIntoView(ctx, el, page.BlockCenter))

	els, err := b.ListMessageElements(ctx)
	require.NoError(t, err)
	assert.Equal(t, []page.Element{el}, els)

	msg, err := b.ExtractRawMessage(ctx, el)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, "1700000000", msg.TimestampRaw)

	require.NoError(t, b.ClickChat(ctx, "Relay"))
	sent, err := b.ComposeAndSend(ctx, "CA: x")
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []string{"CA: x"}, fake.Sent("Relay"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PageConnected))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PageCallsTotal.WithLabelValues(OpComposeAndSend, "ok")))
}

func TestBridge_ShimError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, srv, _ := setup(t, time.Second)
	s := &shim{conn: dial(t, ctx, srv), page: pagetest.New(), errOp: OpClickChat}
	go s.serve(ctx)
	waitConnected(t, b, true)

	err := b.ClickChat(ctx, "Alpha")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.NotErrorIs(t, err, page.ErrPageUnavailable)
}

func TestBridge_CallTimeoutIsUnavailable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, srv, _ := setup(t, 50*time.Millisecond)
	s := &shim{conn: dial(t, ctx, srv), page: pagetest.New(), mute: true}
	go s.serve(ctx)
	waitConnected(t, b, true)

	_, err := b.CurrentChatTitle(ctx)
	assert.ErrorIs(t, err, page.ErrPageUnavailable)
	assert.Contains(t, err.Error(), "timed out")
}

func TestBridge_DisconnectFailsPendingCalls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, srv, _ := setup(t, 5*time.Second)
	conn := dial(t, ctx, srv)
	s := &shim{conn: conn, page: pagetest.New(), mute: true}
	go s.serve(ctx)
	waitConnected(t, b, true)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.CurrentChatTitle(ctx)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	conn.Close(websocket.StatusNormalClosure, "bye")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, page.ErrPageUnavailable)
	case <-time.After(3 * time.Second):
		t.Fatal("pending call not failed")
	}
	waitConnected(t, b, false)
}

func TestBridge_NewerConnectionReplacesOlder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, srv, _ := setup(t, time.Second)
	first := &shim{conn: dial(t, ctx, srv), page: pagetest.New(), mute: true}
	go first.serve(ctx)
	waitConnected(t, b, true)

	fake := pagetest.New(&pagetest.Chat{Title: "Beta", FirstUnread: -1})
	fake.Open("Beta")
	second := &shim{conn: dial(t, ctx, srv), page: fake}
	go second.serve(ctx)

	require.Eventually(t, func() bool {
		title, err := b.CurrentChatTitle(ctx)
		return err == nil && title == "Beta"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestBridge_MutationEventsNotify(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, srv, _ := setup(t, time.Second)
	conn := dial(t, ctx, srv)
	waitConnected(t, b, true)

	changes := b.Changes(ctx)
	require.NoError(t, wsjson.Write(ctx, conn, Inbound{Event: EventMutation}))

	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}
