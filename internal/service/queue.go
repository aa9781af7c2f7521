package service

import (
	"context"
	"sync"

	"carelay/internal/constants"
	apperrors "carelay/internal/errors"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProcessFunc makes the single attempt a queued request gets.
type ProcessFunc func(ctx context.Context, req models.ForwardRequest) error

// ReadyFunc reports whether the next item can be attempted now. A false
// answer ends the drain with the item left at the head.
type ReadyFunc func(ctx context.Context) bool

// QueueOption customises a ForwardQueue.
type QueueOption func(*ForwardQueue)

// WithReadyCheck defers draining while ready reports false.
func WithReadyCheck(ready ReadyFunc) QueueOption {
	return func(q *ForwardQueue) { q.ready = ready }
}

// WithDrainHooks runs start before and finish after every drain pass.
func WithDrainHooks(start, finish func(ctx context.Context)) QueueOption {
	return func(q *ForwardQueue) {
		q.onStart = start
		q.onFinish = finish
	}
}

// ForwardQueue is the persisted FIFO of requests waiting to be forwarded.
// Each item is attempted at most once: it is removed after the attempt
// whether or not the attempt succeeded.
type ForwardQueue struct {
	store   storage.Store
	logger  *logrus.Logger
	metrics *metrics.Metrics
	process ProcessFunc
	ready   ReadyFunc

	onStart  func(ctx context.Context)
	onFinish func(ctx context.Context)

	mu         sync.Mutex
	items      []models.ForwardRequest
	processing bool
	idle       chan struct{}
}

func NewForwardQueue(store storage.Store, process ProcessFunc, logger *logrus.Logger, m *metrics.Metrics, opts ...QueueOption) *ForwardQueue {
	idle := make(chan struct{})
	close(idle)
	q := &ForwardQueue{
		store:   store,
		logger:  logger,
		metrics: m,
		process: process,
		idle:    idle,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load replaces the in-memory queue with the stored one.
func (q *ForwardQueue) Load(ctx context.Context) error {
	var items []models.ForwardRequest
	if _, err := storage.GetJSON(ctx, q.store, constants.KeyForwardQueue, &items); err != nil {
		return err
	}

	q.mu.Lock()
	q.items = items
	q.mu.Unlock()

	q.metrics.SetQueueDepth(len(items))
	return nil
}

// Enqueue appends req to the tail and persists the queue.
func (q *ForwardQueue) Enqueue(ctx context.Context, req models.ForwardRequest) (models.ForwardRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, req)
	if err := q.persistLocked(ctx); err != nil {
		q.items = q.items[:len(q.items)-1]
		return req, err
	}
	q.metrics.SetQueueDepth(len(q.items))
	return req, nil
}

// Drain processes items from the head until the queue is empty or the ready
// check fails. It reports false without doing anything when another drain is
// already running.
func (q *ForwardQueue) Drain(ctx context.Context) bool {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		q.logger.Debug("Skipping queue drain: already processing")
		return false
	}
	q.processing = true
	q.idle = make(chan struct{})
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		close(q.idle)
		q.mu.Unlock()
	}()

	if q.onStart != nil {
		q.onStart(ctx)
	}
	if q.onFinish != nil {
		defer q.onFinish(ctx)
	}

	result := "empty"
	for {
		head, ok := q.peek()
		if !ok {
			break
		}
		if ctx.Err() != nil {
			result = "cancelled"
			break
		}
		if q.ready != nil && !q.ready(ctx) {
			q.logger.WithField(LogFieldCount, q.Len()).Info("Deferring queue drain: page unavailable")
			result = "deferred"
			break
		}

		result = "drained"
		log := q.logger.WithFields(requestFields(head))
		if err := q.process(ctx, head); err != nil {
			apperrors.LogRetryableError(log, err, "Failed to forward queued address")
		} else {
			log.Debug("Processed queued address")
		}

		// Pop even if ctx was cancelled during the attempt.
		if err := q.pop(context.WithoutCancel(ctx), head.ID); err != nil {
			apperrors.LogError(log, err, "Failed to persist queue after processing")
		}
	}

	q.metrics.RecordDrain(result)
	return true
}

// WaitIdle blocks until no drain is running.
func (q *ForwardQueue) WaitIdle(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Processing reports whether a drain is running.
func (q *ForwardQueue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// Snapshot returns a copy of the queued items in order.
func (q *ForwardQueue) Snapshot() []models.ForwardRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.ForwardRequest(nil), q.items...)
}

func (q *ForwardQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *ForwardQueue) peek() (models.ForwardRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return models.ForwardRequest{}, false
	}
	return q.items[0], true
}

// pop removes the head if it is still the item that was attempted.
func (q *ForwardQueue) pop(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ID != id {
		return nil
	}
	q.items = q.items[1:]
	q.metrics.SetQueueDepth(len(q.items))
	return q.persistLocked(ctx)
}

func (q *ForwardQueue) persistLocked(ctx context.Context) error {
	items := q.items
	if items == nil {
		items = []models.ForwardRequest{}
	}
	return storage.SetJSON(ctx, q.store, constants.KeyForwardQueue, items)
}
