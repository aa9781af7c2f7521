package page

import (
	"context"
	"errors"
	"strings"
	"time"

	"carelay/internal/models"
	"carelay/internal/retry"
)

// ErrPageUnavailable is returned when no host page is attached or it stopped answering.
var ErrPageUnavailable = errors.New("page unavailable")

// Element is an opaque handle to a rendered message node. Handles are only
// meaningful to the adapter that produced them.
type Element string

// Block controls where ScrollIntoView places an element.
type Block string

const (
	BlockCenter Block = "center"
	BlockEnd    Block = "end"
)

// SidebarChat is one entry of the chat list.
type SidebarChat struct {
	Title     string `json:"title"`
	HasUnread bool   `json:"hasUnread"`
}

// Adapter is everything the relay needs from the messaging web page.
type Adapter interface {
	CurrentChatTitle(ctx context.Context) (string, error)
	ListSidebarChats(ctx context.Context) ([]SidebarChat, error)
	ClickChat(ctx context.Context, title string) error
	HasMessageList(ctx context.Context) (bool, error)
	FirstUnreadMarker(ctx context.Context) (Element, bool, error)
	ListMessageElements(ctx context.Context) ([]Element, error)
	ScrollIntoView(ctx context.Context, el Element, block Block) error
	ExtractRawMessage(ctx context.Context, el Element) (*models.RawMessage, error)
	ComposeAndSend(ctx context.Context, text string) (bool, error)
}

// ChangeNotifier is implemented by adapters that can report DOM changes.
// The channel is closed when ctx ends.
type ChangeNotifier interface {
	Changes(ctx context.Context) <-chan struct{}
}

// ConnectionReporter is implemented by adapters backed by a live connection.
type ConnectionReporter interface {
	Connected() bool
}

// MatchMode selects how a chat title is compared.
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchSubstring
)

func (m MatchMode) matches(candidate, title string) bool {
	if m == MatchSubstring {
		return strings.Contains(candidate, title)
	}
	return candidate == title
}

// FindChat returns the first sidebar entry matching title.
func FindChat(chats []SidebarChat, title string, mode MatchMode) (SidebarChat, bool) {
	for _, c := range chats {
		if mode.matches(c.Title, title) {
			return c, true
		}
	}
	return SidebarChat{}, false
}

// IsConnected reports whether a is attached to a page. Adapters without a
// connection notion are always considered connected.
func IsConnected(a Adapter) bool {
	if r, ok := a.(ConnectionReporter); ok {
		return r.Connected()
	}
	return true
}

// WaitForTitle polls the open chat until its title matches. A page that is
// momentarily unavailable counts as not yet matching.
func WaitForTitle(ctx context.Context, a Adapter, title string, mode MatchMode, timeout, interval time.Duration) (bool, error) {
	return retry.WaitFor(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		current, err := a.CurrentChatTitle(ctx)
		if err != nil {
			if errors.Is(err, ErrPageUnavailable) {
				return false, nil
			}
			return false, err
		}
		return mode.matches(current, title), nil
	})
}
