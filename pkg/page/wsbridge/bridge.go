// Package wsbridge exposes a page.Adapter backed by a browser-side shim that
// connects over a websocket and executes DOM operations on request.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"

	"carelay/internal/constants"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/pkg/page"
)

const readLimit = 1 << 20

// Operation names understood by the shim
const (
	OpCurrentChatTitle    = "currentChatTitle"
	OpListSidebarChats    = "listSidebarChats"
	OpClickChat           = "clickChat"
	OpHasMessageList      = "hasMessageList"
	OpFirstUnreadMarker   = "firstUnreadMarker"
	OpListMessageElements = "listMessageElements"
	OpScrollIntoView      = "scrollIntoView"
	OpExtractRawMessage   = "extractRawMessage"
	OpComposeAndSend      = "composeAndSend"
)

// Events pushed by the shim
const (
	EventHello    = "hello"
	EventMutation = "mutation"
)

// Request is sent to the shim.
type Request struct {
	ID   uint64      `json:"id"`
	Op   string      `json:"op"`
	Args interface{} `json:"args,omitempty"`
}

// Inbound is either a reply (ID set) or an event (Event set).
type Inbound struct {
	ID     uint64          `json:"id,omitempty"`
	OK     bool            `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	URL    string          `json:"url,omitempty"`
}

type reply struct {
	result json.RawMessage
	err    error
}

type pendingCall struct {
	conn *websocket.Conn
	ch   chan reply
}

// Bridge accepts one shim connection at a time. A newer connection replaces
// the older one and fails its in-flight calls.
type Bridge struct {
	logger         *logrus.Logger
	metrics        *metrics.Metrics
	callTimeout    time.Duration
	originPatterns []string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]*pendingCall
	nextID  uint64
	subs    map[chan struct{}]struct{}
}

// Config configures a Bridge.
type Config struct {
	CallTimeout    time.Duration
	OriginPatterns []string
}

func New(cfg Config, logger *logrus.Logger, m *metrics.Metrics) *Bridge {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = time.Duration(constants.DefaultPageCallTimeoutMs) * time.Millisecond
	}
	return &Bridge{
		logger:         logger,
		metrics:        m,
		callTimeout:    cfg.CallTimeout,
		originPatterns: cfg.OriginPatterns,
		pending:        make(map[uint64]*pendingCall),
		subs:           make(map[chan struct{}]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the shim until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.originPatterns,
	})
	if err != nil {
		b.logger.WithError(err).Warn("Failed to accept page connection")
		return
	}
	conn.SetReadLimit(readLimit)

	b.attach(conn)
	b.logger.WithField("remote", r.RemoteAddr).Info("Page connected")

	err = b.readLoop(r.Context(), conn)
	b.detach(conn)

	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		b.logger.Info("Page disconnected")
	} else {
		b.logger.WithError(err).Warn("Page connection lost")
	}
}

func (b *Bridge) attach(conn *websocket.Conn) {
	b.mu.Lock()
	old := b.conn
	b.conn = conn
	b.mu.Unlock()

	if old != nil {
		b.failPending(old)
		go old.Close(websocket.StatusPolicyViolation, "replaced by newer page connection")
	}
	b.metrics.SetPageConnected(true)
}

func (b *Bridge) detach(conn *websocket.Conn) {
	b.mu.Lock()
	current := b.conn == conn
	if current {
		b.conn = nil
	}
	b.mu.Unlock()

	b.failPending(conn)
	if current {
		b.metrics.SetPageConnected(false)
	}
	conn.CloseNow()
}

func (b *Bridge) failPending(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, p := range b.pending {
		if p.conn != conn {
			continue
		}
		p.ch <- reply{err: fmt.Errorf("%w: connection closed", page.ErrPageUnavailable)}
		delete(b.pending, id)
	}
}

func (b *Bridge) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var in Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}

		if in.Event != "" {
			b.handleEvent(in)
			continue
		}

		b.mu.Lock()
		p, ok := b.pending[in.ID]
		if ok {
			delete(b.pending, in.ID)
		}
		b.mu.Unlock()
		if !ok {
			b.logger.WithField("id", in.ID).Debug("Dropping reply for unknown page call")
			continue
		}

		r := reply{result: in.Result}
		if !in.OK {
			msg := in.Error
			if msg == "" {
				msg = "page call failed"
			}
			r.err = errors.New(msg)
		}
		p.ch <- r
	}
}

func (b *Bridge) handleEvent(in Inbound) {
	switch in.Event {
	case EventMutation:
		b.notify()
	case EventHello:
		b.logger.WithField("url", in.URL).Info("Page shim said hello")
		b.notify()
	default:
		b.logger.WithField("event", in.Event).Debug("Ignoring unknown page event")
	}
}

func (b *Bridge) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Changes implements page.ChangeNotifier using the shim's mutation events.
func (b *Bridge) Changes(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch
}

// Connected implements page.ConnectionReporter.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Close drops the current connection.
func (b *Bridge) Close() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

func (b *Bridge) call(ctx context.Context, op string, args interface{}, out interface{}) (err error) {
	start := time.Now()
	defer func() { b.metrics.RecordPageCall(op, err, time.Since(start)) }()

	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		b.mu.Unlock()
		return page.ErrPageUnavailable
	}
	b.nextID++
	id := b.nextID
	p := &pendingCall{conn: conn, ch: make(chan reply, 1)}
	b.pending[id] = p
	b.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, b.callTimeout)
	defer cancel()

	if err := wsjson.Write(callCtx, conn, Request{ID: id, Op: op, Args: args}); err != nil {
		b.forget(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: write %s: %v", page.ErrPageUnavailable, op, err)
	}

	select {
	case r := <-p.ch:
		if r.err != nil {
			return r.err
		}
		if out == nil || len(r.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", op, err)
		}
		return nil
	case <-callCtx.Done():
		b.forget(id)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s timed out after %s", page.ErrPageUnavailable, op, b.callTimeout)
	}
}

func (b *Bridge) forget(id uint64) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) CurrentChatTitle(ctx context.Context) (string, error) {
	var res struct {
		Title string `json:"title"`
	}
	err := b.call(ctx, OpCurrentChatTitle, nil, &res)
	return res.Title, err
}

func (b *Bridge) ListSidebarChats(ctx context.Context) ([]page.SidebarChat, error) {
	var res struct {
		Chats []page.SidebarChat `json:"chats"`
	}
	err := b.call(ctx, OpListSidebarChats, nil, &res)
	return res.Chats, err
}

func (b *Bridge) ClickChat(ctx context.Context, title string) error {
	return b.call(ctx, OpClickChat, map[string]string{"title": title}, nil)
}

func (b *Bridge) HasMessageList(ctx context.Context) (bool, error) {
	var res struct {
		Present bool `json:"present"`
	}
	err := b.call(ctx, OpHasMessageList, nil, &res)
	return res.Present, err
}

func (b *Bridge) FirstUnreadMarker(ctx context.Context) (page.Element, bool, error) {
	var res struct {
		Element page.Element `json:"element"`
		Found   bool         `json:"found"`
	}
	err := b.call(ctx, OpFirstUnreadMarker, nil, &res)
	return res.Element, res.Found, err
}

func (b *Bridge) ListMessageElements(ctx context.Context) ([]page.Element, error) {
	var res struct {
		Elements []page.Element `json:"elements"`
	}
	err := b.call(ctx, OpListMessageElements, nil, &res)
	return res.Elements, err
}

func (b *Bridge) ScrollIntoView(ctx context.Context, el page.Element, block page.Block) error {
	return b.call(ctx, OpScrollIntoView, map[string]string{"element": string(el), "block": string(block)}, nil)
}

func (b *Bridge) ExtractRawMessage(ctx context.Context, el page.Element) (*models.RawMessage, error) {
	var res struct {
		Message *models.RawMessage `json:"message"`
	}
	err := b.call(ctx, OpExtractRawMessage, map[string]string{"element": string(el)}, &res)
	return res.Message, err
}

func (b *Bridge) ComposeAndSend(ctx context.Context, text string) (bool, error) {
	var res struct {
		Sent bool `json:"sent"`
	}
	err := b.call(ctx, OpComposeAndSend, map[string]string{"text": text}, &res)
	return res.Sent, err
}

var (
	_ page.Adapter            = (*Bridge)(nil)
	_ page.ChangeNotifier     = (*Bridge)(nil)
	_ page.ConnectionReporter = (*Bridge)(nil)
)
