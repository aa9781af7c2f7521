package page

import (
	"context"
	"time"
)

// PollingNotifier reports a change every Interval. It stands in for adapters
// that cannot observe DOM mutations themselves.
type PollingNotifier struct {
	Interval time.Duration
}

func (p PollingNotifier) Changes(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}()
	return ch
}

// NotifierFor returns a's own notifier when it has one, otherwise a poller.
func NotifierFor(a Adapter, fallback time.Duration) ChangeNotifier {
	if n, ok := a.(ChangeNotifier); ok {
		return n
	}
	return PollingNotifier{Interval: fallback}
}
