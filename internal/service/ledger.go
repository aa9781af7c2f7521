package service

import (
	"context"
	"maps"
	"sync"
	"time"

	"carelay/internal/constants"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/storage"

	"github.com/sirupsen/logrus"
)

// isoLayout matches the millisecond ISO-8601 strings already found in stores.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

// Ledger remembers which contract addresses have been seen so they are
// forwarded at most once. Every mutation is written through to the store.
type Ledger struct {
	store   storage.Store
	logger  *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	entries models.ProcessedCAs
}

func NewLedger(store storage.Store, logger *logrus.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		entries: make(models.ProcessedCAs),
	}
}

// Load replaces the in-memory ledger with the stored one.
func (l *Ledger) Load(ctx context.Context) error {
	entries := make(models.ProcessedCAs)
	if _, err := storage.GetJSON(ctx, l.store, constants.KeyProcessedCAs, &entries); err != nil {
		return err
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.metrics.SetLedgerSize(len(entries))
	return nil
}

// MarkSeen records a sighting of ca. A new address gets firstSeen and
// lastSeen set to now; a known one only advances lastSeen, and its ticker is
// filled only when it was empty.
func (l *Ledger) MarkSeen(ctx context.Context, ca, ticker string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC().Format(isoLayout)
	entry, exists := l.entries[ca]
	if !exists {
		entry = models.ProcessedCAEntry{Ticker: ticker, FirstSeen: now}
	} else if entry.Ticker == "" && ticker != "" {
		entry.Ticker = ticker
	}
	entry.LastSeen = now
	l.entries[ca] = entry

	l.metrics.SetLedgerSize(len(l.entries))
	return l.persistLocked(ctx)
}

// IsProcessed reports whether ca is in the ledger.
func (l *Ledger) IsProcessed(ca string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[ca]
	return ok
}

// Prune deletes entries first seen more than maxAge ago. Entries whose
// firstSeen cannot be parsed are kept.
func (l *Ledger) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ca, entry := range l.entries {
		firstSeen, err := time.Parse(time.RFC3339, entry.FirstSeen)
		if err != nil {
			l.logger.WithFields(logrus.Fields{
				LogFieldCA:  ca,
				"firstSeen": entry.FirstSeen,
			}).Warn("Skipping ledger entry with invalid timestamp")
			continue
		}
		if now.Sub(firstSeen) > maxAge {
			delete(l.entries, ca)
			removed++
		}
	}

	l.metrics.SetLedgerSize(len(l.entries))
	if removed == 0 {
		return 0, nil
	}

	l.metrics.RecordPruned(removed)
	l.logger.WithFields(logrus.Fields{
		LogFieldCount: removed,
		"remaining":   len(l.entries),
	}).Info("Pruned processed addresses")
	return removed, l.persistLocked(ctx)
}

// Snapshot returns a copy of the ledger.
func (l *Ledger) Snapshot() models.ProcessedCAs {
	l.mu.Lock()
	defer l.mu.Unlock()
	return maps.Clone(l.entries)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) persistLocked(ctx context.Context) error {
	return storage.SetJSON(ctx, l.store, constants.KeyProcessedCAs, l.entries)
}
