// Package bus is the asynchronous channel between the background and page
// contexts. Payloads cross as JSON so neither side can share Go state with
// the other; each endpoint handles its inbox one message at a time.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "carelay/internal/errors"

	"github.com/sirupsen/logrus"
)

// MessageType names an inter-context message.
type MessageType string

const (
	QueueCA              MessageType = "QUEUE_CA"
	ForwardCA            MessageType = "FORWARD_CA"
	SetForwardInProgress MessageType = "SET_FORWARD_IN_PROGRESS"
	StartScan            MessageType = "START_SCAN"
	PageStatus           MessageType = "PAGE_STATUS"
)

const inboxSize = 64

// Envelope is the serialised form of every message.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	// Deadline is the requester's deadline in unix milliseconds, 0 for none.
	Deadline int64 `json:"deadline,omitempty"`
}

// Handler processes one message. The returned value is JSON-encoded into the
// reply of a Request and ignored for Send.
type Handler func(ctx context.Context, data json.RawMessage) (interface{}, error)

type wireError struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
}

type reply struct {
	Data json.RawMessage `json:"data,omitempty"`
	Err  *wireError      `json:"error,omitempty"`
}

type delivery struct {
	env   Envelope
	reply chan reply
}

// Endpoint is one side of the bus.
type Endpoint struct {
	name   string
	inbox  chan delivery
	peer   *Endpoint
	logger *logrus.Logger

	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// NewPair creates two connected endpoints.
func NewPair(logger *logrus.Logger, nameA, nameB string) (*Endpoint, *Endpoint) {
	a := newEndpoint(nameA, logger)
	b := newEndpoint(nameB, logger)
	a.peer, b.peer = b, a
	return a, b
}

func newEndpoint(name string, logger *logrus.Logger) *Endpoint {
	return &Endpoint{
		name:     name,
		inbox:    make(chan delivery, inboxSize),
		logger:   logger,
		handlers: make(map[MessageType]Handler),
	}
}

func (e *Endpoint) Name() string {
	return e.name
}

// Handle registers h for messages of type t arriving at this endpoint.
func (e *Endpoint) Handle(t MessageType, h Handler) {
	e.mu.Lock()
	e.handlers[t] = h
	e.mu.Unlock()
}

// Send delivers a message to the peer without waiting for it to be handled.
func (e *Endpoint) Send(ctx context.Context, t MessageType, data interface{}) error {
	env, err := encode(ctx, t, data)
	if err != nil {
		return err
	}
	return e.deliver(ctx, delivery{env: env})
}

// Request delivers a message to the peer and waits for its reply, decoding
// it into out when out is non-nil.
func (e *Endpoint) Request(ctx context.Context, t MessageType, data interface{}, out interface{}) error {
	env, err := encode(ctx, t, data)
	if err != nil {
		return err
	}

	ch := make(chan reply, 1)
	if err := e.deliver(ctx, delivery{env: env, reply: ch}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, fmt.Sprintf("%s reply not received", t))
	case r := <-ch:
		if r.Err != nil {
			return apperrors.New(r.Err.Code, r.Err.Message)
		}
		if out != nil && len(r.Data) > 0 {
			if err := json.Unmarshal(r.Data, out); err != nil {
				return fmt.Errorf("decode %s reply: %w", t, err)
			}
		}
		return nil
	}
}

func (e *Endpoint) deliver(ctx context.Context, d delivery) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.peer.inbox <- d:
		return nil
	}
}

// Run dispatches inbound messages sequentially until ctx is cancelled.
func (e *Endpoint) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-e.inbox:
			e.dispatch(ctx, d)
		}
	}
}

func (e *Endpoint) dispatch(ctx context.Context, d delivery) {
	log := e.logger.WithFields(logrus.Fields{
		"endpoint": e.name,
		"message":  d.env.Type,
	})

	e.mu.RLock()
	h, ok := e.handlers[d.env.Type]
	e.mu.RUnlock()

	if !ok {
		log.Warn("No handler for message")
		e.respond(d, nil, apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("unhandled message %s", d.env.Type)))
		return
	}

	hctx := ctx
	if d.env.Deadline > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithDeadline(ctx, time.UnixMilli(d.env.Deadline))
		defer cancel()
	}

	result, err := e.safeCall(hctx, h, d.env.Data)
	if err != nil && d.reply == nil {
		apperrors.LogWarn(log, err, "Message handler failed")
	}
	e.respond(d, result, err)
}

func (e *Endpoint) safeCall(ctx context.Context, h Handler, data json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"endpoint": e.name,
				"panic":    r,
			}).Error("Message handler panicked")
			err = apperrors.New(apperrors.ErrCodeInternalError, fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return h(ctx, data)
}

func (e *Endpoint) respond(d delivery, result interface{}, err error) {
	if d.reply == nil {
		return
	}

	var r reply
	if err != nil {
		r.Err = toWireError(err)
	} else if result != nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			r.Err = &wireError{Code: apperrors.ErrCodeInternalError, Message: mErr.Error()}
		} else {
			r.Data = raw
		}
	}
	d.reply <- r
}

func toWireError(err error) *wireError {
	ae, ok := apperrors.As(err)
	if !ok {
		return &wireError{Code: apperrors.ErrCodeInternalError, Message: err.Error()}
	}
	msg := ae.Message
	if ae.Cause != nil {
		msg += ": " + ae.Cause.Error()
	}
	return &wireError{Code: ae.Code, Message: msg}
}

func encode(ctx context.Context, t MessageType, data interface{}) (Envelope, error) {
	env := Envelope{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode %s: %w", t, err)
		}
		env.Data = raw
	}
	if dl, ok := ctx.Deadline(); ok {
		env.Deadline = dl.UnixMilli()
	}
	return env, nil
}

// Decode unmarshals a handler payload, mapping failures to INVALID_INPUT.
func Decode(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "missing message data")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed message data")
	}
	return nil
}
