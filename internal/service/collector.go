package service

import (
	"context"
	"time"

	"carelay/internal/extractor"
	"carelay/internal/features"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/pkg/page"

	"github.com/sirupsen/logrus"
)

// SubmitFunc hands a candidate to the background context.
type SubmitFunc func(ctx context.Context, req models.ForwardRequest) error

// collector reads message elements and turns them into forward candidates.
// It is shared by the chat scanner and the recent-message monitor.
type collector struct {
	adapter page.Adapter
	flags   *features.FlagManager
	seen    *seenMessages
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// batch accumulates candidates for one pass over a chat, one per address.
type batch struct {
	chat  string
	cas   map[string]struct{}
	items []models.ForwardRequest
}

func newBatch(chat string) *batch {
	return &batch{chat: chat, cas: make(map[string]struct{})}
}

// collect extracts, age-filters and classifies els into b. A page error
// stops the pass; candidates found so far stay in b.
func (c *collector) collect(ctx context.Context, b *batch, els []page.Element, maxAge time.Duration, source string) error {
	for _, el := range els {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := c.adapter.ExtractRawMessage(ctx, el)
		if err != nil {
			return err
		}
		msg := extractor.ExtractMessage(raw, b.chat)
		if msg == nil {
			c.metrics.RecordDiscarded("incomplete")
			continue
		}

		if extractor.IsStale(msg.Timestamp, c.now(), maxAge) {
			c.metrics.RecordDiscarded("too_old")
			continue
		}

		if c.flags != nil && c.flags.IsEnabled(features.FlagMessageIDDedup) && c.seen != nil {
			if !c.seen.Add(b.chat, msg.ID) {
				c.metrics.RecordDiscarded("seen")
				continue
			}
		}

		cand, ok := extractor.Classify(msg.Text)
		if !ok {
			continue
		}
		if _, dup := b.cas[cand.CA]; dup {
			continue
		}
		b.cas[cand.CA] = struct{}{}

		c.metrics.RecordCandidate(string(cand.Chain), source)
		c.logger.WithFields(messageFields(ctx, msg)).WithFields(logrus.Fields{
			LogFieldCA:     cand.CA,
			LogFieldTicker: cand.Ticker,
			LogFieldSource: source,
		}).Info("Found contract address")

		b.items = append(b.items, models.ForwardRequest{
			CA:        cand.CA,
			Ticker:    cand.Ticker,
			ChatTitle: b.chat,
			Timestamp: msg.Timestamp,
			Chain:     cand.Chain,
		})
	}
	return nil
}

// submitAll hands every candidate to submit in order. Failures are logged
// and do not stop the remaining candidates.
func submitAll(ctx context.Context, logger *logrus.Logger, submit SubmitFunc, items []models.ForwardRequest) int {
	queued := 0
	for _, req := range items {
		if err := submit(ctx, req); err != nil {
			logger.WithFields(requestFields(req)).WithError(err).Warn("Failed to queue contract address")
			continue
		}
		queued++
	}
	return queued
}
