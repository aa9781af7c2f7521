package page

import (
	"context"
	"errors"
	"fmt"

	"carelay/internal/models"
	"carelay/pkg/circuitbreaker"
)

// Guarded wraps an Adapter with a circuit breaker so a dead page is not
// hammered by every scan tick. Calls rejected by an open breaker return
// ErrPageUnavailable.
type Guarded struct {
	inner Adapter
	cb    *circuitbreaker.CircuitBreaker
}

// Guard wraps inner. The breaker should be built with CountsAsPageFailure.
func Guard(inner Adapter, cb *circuitbreaker.CircuitBreaker) *Guarded {
	return &Guarded{inner: inner, cb: cb}
}

// CountsAsPageFailure reports whether err reflects an unhealthy page rather
// than an ordinary negative answer.
func CountsAsPageFailure(err error) bool {
	return errors.Is(err, ErrPageUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// Breaker exposes the underlying breaker for status reporting.
func (g *Guarded) Breaker() *circuitbreaker.CircuitBreaker {
	return g.cb
}

// Connected delegates to the wrapped adapter.
func (g *Guarded) Connected() bool {
	return IsConnected(g.inner)
}

// Changes delegates to the wrapped adapter when it can notify.
func (g *Guarded) Changes(ctx context.Context) <-chan struct{} {
	if n, ok := g.inner.(ChangeNotifier); ok {
		return n.Changes(ctx)
	}
	return nil
}

func (g *Guarded) run(ctx context.Context, fn func(ctx context.Context) error) error {
	err := g.cb.Execute(ctx, fn)
	if circuitbreaker.IsCircuitBreakerError(err) {
		return fmt.Errorf("%w: %v", ErrPageUnavailable, err)
	}
	return err
}

func (g *Guarded) CurrentChatTitle(ctx context.Context) (title string, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		title, err = g.inner.CurrentChatTitle(ctx)
		return err
	})
	return title, err
}

func (g *Guarded) ListSidebarChats(ctx context.Context) (chats []SidebarChat, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		chats, err = g.inner.ListSidebarChats(ctx)
		return err
	})
	return chats, err
}

func (g *Guarded) ClickChat(ctx context.Context, title string) error {
	return g.run(ctx, func(ctx context.Context) error {
		return g.inner.ClickChat(ctx, title)
	})
}

func (g *Guarded) HasMessageList(ctx context.Context) (present bool, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		present, err = g.inner.HasMessageList(ctx)
		return err
	})
	return present, err
}

func (g *Guarded) FirstUnreadMarker(ctx context.Context) (el Element, found bool, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		el, found, err = g.inner.FirstUnreadMarker(ctx)
		return err
	})
	return el, found, err
}

func (g *Guarded) ListMessageElements(ctx context.Context) (els []Element, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		els, err = g.inner.ListMessageElements(ctx)
		return err
	})
	return els, err
}

func (g *Guarded) ScrollIntoView(ctx context.Context, el Element, block Block) error {
	return g.run(ctx, func(ctx context.Context) error {
		return g.inner.ScrollIntoView(ctx, el, block)
	})
}

func (g *Guarded) ExtractRawMessage(ctx context.Context, el Element) (msg *models.RawMessage, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		msg, err = g.inner.ExtractRawMessage(ctx, el)
		return err
	})
	return msg, err
}

func (g *Guarded) ComposeAndSend(ctx context.Context, text string) (sent bool, err error) {
	err = g.run(ctx, func(ctx context.Context) error {
		sent, err = g.inner.ComposeAndSend(ctx, text)
		return err
	})
	return sent, err
}
