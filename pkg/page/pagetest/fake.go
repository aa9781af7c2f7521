// Package pagetest provides an in-memory page for exercising code that drives
// a page.Adapter.
package pagetest

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"carelay/internal/models"
	"carelay/pkg/page"
)

// Message is a rendered message in a fake chat.
type Message struct {
	ID        string
	Timestamp int64
	Text      string
}

// Chat is a fake conversation. FirstUnread is the index of the first unread
// message, or -1 when everything is read.
type Chat struct {
	Title       string
	Unread      bool
	FirstUnread int
	Messages    []Message
}

// Page is a thread-safe scripted page.
type Page struct {
	mu       sync.Mutex
	chats    []*Chat
	current  string
	sent     map[string][]string
	calls    []string
	offline  bool
	compose  bool
	loadedAs map[string]string
	noList   map[string]bool
	lazy     map[string]*lazyRender
}

// lazyRender is how much of a chat's history is rendered.
type lazyRender struct {
	rendered int
	step     int
}

// New returns a page showing no chat.
func New(chats ...*Chat) *Page {
	return &Page{
		chats:    chats,
		sent:     make(map[string][]string),
		compose:  true,
		loadedAs: make(map[string]string),
		noList:   make(map[string]bool),
		lazy:     make(map[string]*lazyRender),
	}
}

// RenderLazily makes title render only its first initial messages. Each
// BlockEnd scroll inside the chat reveals step more.
func (p *Page) RenderLazily(title string, initial, step int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lazy[title] = &lazyRender{rendered: initial, step: step}
}

// SetOffline makes every call fail with page.ErrPageUnavailable.
func (p *Page) SetOffline(offline bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = offline
}

// SetComposeAvailable controls the result of ComposeAndSend.
func (p *Page) SetComposeAvailable(ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.compose = ok
}

// LoadAs makes clicking title show shownAs as the header, to simulate a
// chat that never finishes loading.
func (p *Page) LoadAs(title, shownAs string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loadedAs[title] = shownAs
}

// HideMessageList makes title open without a message list.
func (p *Page) HideMessageList(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.noList[title] = true
}

// Open sets the current chat without recording a click.
func (p *Page) Open(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = title
}

// AddMessage appends a message to a chat.
func (p *Page) AddMessage(title string, m Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c := p.chat(title); c != nil {
		c.Messages = append(c.Messages, m)
	}
}

// Sent returns the texts sent into a chat.
func (p *Page) Sent(title string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent[title]...)
}

// Calls returns the recorded adapter operations, e.g. "click:Alpha".
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Clicks returns the titles passed to ClickChat in order.
func (p *Page) Clicks() []string {
	var out []string
	for _, c := range p.Calls() {
		if t, ok := strings.CutPrefix(c, "click:"); ok {
			out = append(out, t)
		}
	}
	return out
}

func (p *Page) chat(title string) *Chat {
	for _, c := range p.chats {
		if c.Title == title {
			return c
		}
	}
	return nil
}

func (p *Page) enter(op string) error {
	p.mu.Lock()
	p.calls = append(p.calls, op)
	offline := p.offline
	p.mu.Unlock()
	if offline {
		return page.ErrPageUnavailable
	}
	return nil
}

func element(title string, i int) page.Element {
	return page.Element(fmt.Sprintf("%s#%d", title, i))
}

func parseElement(el page.Element) (string, int, bool) {
	s := string(el)
	at := strings.LastIndex(s, "#")
	if at < 0 {
		return "", 0, false
	}
	i, err := strconv.Atoi(s[at+1:])
	if err != nil {
		return "", 0, false
	}
	return s[:at], i, true
}

func (p *Page) CurrentChatTitle(ctx context.Context) (string, error) {
	if err := p.enter("title"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if shown, ok := p.loadedAs[p.current]; ok {
		return shown, nil
	}
	return p.current, nil
}

func (p *Page) ListSidebarChats(ctx context.Context) ([]page.SidebarChat, error) {
	if err := p.enter("sidebar"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]page.SidebarChat, 0, len(p.chats))
	for _, c := range p.chats {
		out = append(out, page.SidebarChat{Title: c.Title, HasUnread: c.Unread})
	}
	return out, nil
}

func (p *Page) ClickChat(ctx context.Context, title string) error {
	if err := p.enter("click:" + title); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.chat(title)
	if c == nil {
		return fmt.Errorf("no chat %q in sidebar", title)
	}
	p.current = title
	c.Unread = false
	return nil
}

func (p *Page) HasMessageList(ctx context.Context) (bool, error) {
	if err := p.enter("hasList"); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != "" && !p.noList[p.current], nil
}

func (p *Page) FirstUnreadMarker(ctx context.Context) (page.Element, bool, error) {
	if err := p.enter("marker"); err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.chat(p.current)
	if c == nil || c.FirstUnread < 0 || c.FirstUnread >= len(c.Messages) {
		return "", false, nil
	}
	return element(c.Title, c.FirstUnread), true, nil
}

func (p *Page) ListMessageElements(ctx context.Context) ([]page.Element, error) {
	if err := p.enter("list"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.chat(p.current)
	if c == nil {
		return nil, nil
	}
	n := len(c.Messages)
	if lz, ok := p.lazy[c.Title]; ok {
		n = min(n, lz.rendered)
	}
	out := make([]page.Element, n)
	for i := range n {
		out[i] = element(c.Title, i)
	}
	return out, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el page.Element, block page.Block) error {
	if err := p.enter("scroll:" + string(block)); err != nil {
		return err
	}
	if block != page.BlockEnd {
		return nil
	}
	title, _, ok := parseElement(el)
	if !ok {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if lz, found := p.lazy[title]; found {
		if c := p.chat(title); c != nil {
			lz.rendered = min(lz.rendered+lz.step, len(c.Messages))
		}
	}
	return nil
}

// Count returns how many recorded calls equal op, e.g. "scroll:end".
func (p *Page) Count(op string) int {
	n := 0
	for _, c := range p.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

func (p *Page) ExtractRawMessage(ctx context.Context, el page.Element) (*models.RawMessage, error) {
	if err := p.enter("extract"); err != nil {
		return nil, err
	}
	title, i, ok := parseElement(el)
	if !ok {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.chat(title)
	if c == nil || i >= len(c.Messages) {
		return nil, nil
	}
	m := c.Messages[i]
	return &models.RawMessage{
		ID:           m.ID,
		TimestampRaw: strconv.FormatInt(m.Timestamp, 10),
		Text:         m.Text,
	}, nil
}

func (p *Page) ComposeAndSend(ctx context.Context, text string) (bool, error) {
	if err := p.enter("send"); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.compose {
		return false, nil
	}
	p.sent[p.current] = append(p.sent[p.current], text)
	return true, nil
}

var _ page.Adapter = (*Page)(nil)
