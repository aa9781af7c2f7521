package service

import (
	"context"
	"encoding/json"
	"time"

	"carelay/internal/bus"
	"carelay/internal/constants"
	"carelay/internal/database"
	apperrors "carelay/internal/errors"
	"carelay/internal/extractor"
	"carelay/internal/features"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/storage"
	"carelay/internal/validation"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const pageStatusTimeout = 5 * time.Second

// ForwardAuditor records the outcome of every forward attempt.
type ForwardAuditor interface {
	RecordForward(ctx context.Context, a database.ForwardAudit) error
}

// Background is the long-lived context. It owns the forward queue and the
// processed-address ledger and reaches the page only over the bus.
type Background struct {
	endpoint *bus.Endpoint
	store    storage.Store
	queue    *ForwardQueue
	ledger   *Ledger
	flags    *features.FlagManager
	auditor  ForwardAuditor
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	retention      time.Duration
	forwardTimeout time.Duration
	pruner         *Scheduler
	resumer        *Scheduler
}

// NewBackground wires the background context. auditor may be nil.
func NewBackground(endpoint *bus.Endpoint, store storage.Store, flags *features.FlagManager, auditor ForwardAuditor,
	cfg *models.Config, logger *logrus.Logger, m *metrics.Metrics) *Background {
	retentionHours := cfg.Ledger.RetentionHours
	if retentionHours <= 0 {
		retentionHours = constants.LedgerRetentionHours
	}
	pruneEvery := cfg.Ledger.PruneIntervalMin
	if pruneEvery <= 0 {
		pruneEvery = constants.DefaultLedgerPruneMinutes
	}
	resumeEvery := cfg.Queue.ResumePollSec
	if resumeEvery <= 0 {
		resumeEvery = constants.DefaultQueueResumePollSec
	}
	forwardTimeout := cfg.Forwarder.RequestTimeoutSec
	if forwardTimeout <= 0 {
		forwardTimeout = constants.DefaultForwardRequestTimeoutSec
	}

	b := &Background{
		endpoint:       endpoint,
		store:          store,
		ledger:         NewLedger(store, logger, m),
		flags:          flags,
		auditor:        auditor,
		logger:         logger,
		metrics:        m,
		retention:      time.Duration(retentionHours) * time.Hour,
		forwardTimeout: time.Duration(forwardTimeout) * time.Second,
	}
	b.queue = NewForwardQueue(store, b.forward, logger, m,
		WithReadyCheck(b.pageReady),
		WithDrainHooks(
			func(ctx context.Context) { b.announceForward(ctx, true) },
			func(ctx context.Context) { b.announceForward(ctx, false) },
		),
	)
	b.pruner = NewScheduler("ledger-prune", time.Duration(pruneEvery)*time.Minute, true, b.prune, logger)
	b.resumer = NewScheduler("queue-resume", time.Duration(resumeEvery)*time.Second, false, b.resume, logger)

	endpoint.Handle(bus.QueueCA, b.handleQueueCA)
	return b
}

// Init reconciles the persisted forward flag and loads the queue and ledger.
// A forwardInProgress left true cannot belong to a live forward at startup.
func (b *Background) Init(ctx context.Context) error {
	stale, err := storage.GetBool(ctx, b.store, constants.KeyForwardInProgress)
	if err != nil {
		return err
	}
	if stale {
		b.logger.Warn("Clearing stale forwardInProgress flag from a previous run")
		if err := storage.SetJSON(ctx, b.store, constants.KeyForwardInProgress, false); err != nil {
			return err
		}
	}

	if err := b.queue.Load(ctx); err != nil {
		return err
	}
	if err := b.ledger.Load(ctx); err != nil {
		return err
	}

	b.logger.WithFields(logrus.Fields{
		"queued":    b.queue.Len(),
		"processed": b.ledger.Len(),
	}).Info("Background state loaded")
	return nil
}

// Run initialises state, resumes a persisted queue and serves the bus until
// ctx is cancelled.
func (b *Background) Run(ctx context.Context) error {
	log := b.logger.WithField(LogFieldContext, "background")
	if err := b.Init(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.endpoint.Run(ctx) })
	g.Go(func() error {
		b.pruner.Start(ctx)
		return nil
	})
	g.Go(func() error {
		b.resumer.Start(ctx)
		return nil
	})
	if b.queue.Len() > 0 {
		g.Go(func() error {
			log.WithField(LogFieldCount, b.queue.Len()).Info("Resuming persisted forward queue")
			b.queue.Drain(ctx)
			return nil
		})
	}

	log.Info("Background context running")
	err := g.Wait()
	log.Info("Background context stopped")
	return err
}

func (b *Background) Queue() *ForwardQueue {
	return b.queue
}

func (b *Background) Ledger() *Ledger {
	return b.ledger
}

// TriggerScan asks the page context for an immediate scan cycle.
func (b *Background) TriggerScan(ctx context.Context) error {
	return b.endpoint.Send(ctx, bus.StartScan, nil)
}

// Prune removes ledger entries older than the retention window.
func (b *Background) Prune(ctx context.Context) (int, error) {
	return b.ledger.Prune(ctx, b.retention)
}

func (b *Background) handleQueueCA(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var req models.ForwardRequest
	if err := bus.Decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateForwardRequest(req); err != nil {
		return nil, err
	}
	log := b.logger.WithFields(requestFields(req))

	if b.ledger.IsProcessed(req.CA) {
		if err := b.ledger.MarkSeen(ctx, req.CA, req.Ticker); err != nil {
			apperrors.LogWarn(log, err, "Failed to update ledger")
		}
		b.metrics.RecordDuplicate()
		log.Debug("Skipping already processed address")
		return bus.QueueCAResult{Duplicate: true}, nil
	}

	if err := b.ledger.MarkSeen(ctx, req.CA, req.Ticker); err != nil {
		return nil, err
	}
	if req.Chain == "" {
		req.Chain = extractor.ChainOf(req.CA)
	}
	if _, err := b.queue.Enqueue(ctx, req); err != nil {
		return nil, err
	}
	log.Info("Queued contract address for forwarding")

	if !b.queue.Drain(ctx) {
		// Another drain may have emptied the queue just before our item landed.
		if err := b.queue.WaitIdle(ctx); err == nil {
			b.queue.Drain(ctx)
		}
	}
	return bus.QueueCAResult{Queued: true}, nil
}

// forward makes the single attempt a queued request gets.
func (b *Background) forward(ctx context.Context, req models.ForwardRequest) error {
	ctx, cancel := context.WithTimeout(ctx, b.forwardTimeout+pageStatusTimeout)
	defer cancel()

	var res bus.ForwardCAResult
	err := b.endpoint.Request(ctx, bus.ForwardCA, req, &res)
	if err == nil && res.Error != "" {
		err = apperrors.New(apperrors.ErrorCode(res.Code), res.Error)
	}

	outcome := res.Outcome
	if outcome == "" {
		outcome = string(OutcomeFailed)
	}
	b.audit(ctx, req, outcome, err)
	return err
}

func (b *Background) audit(ctx context.Context, req models.ForwardRequest, outcome string, ferr error) {
	if b.auditor == nil || !b.flags.IsEnabled(features.FlagForwardAudit) {
		return
	}
	entry := database.ForwardAudit{
		RequestID:  req.ID,
		CA:         req.CA,
		Chain:      string(req.Chain),
		SourceChat: req.ChatTitle,
		Outcome:    outcome,
	}
	if ferr != nil {
		entry.Error = ferr.Error()
	}
	if err := b.auditor.RecordForward(context.WithoutCancel(ctx), entry); err != nil {
		apperrors.LogWarn(b.logger.WithFields(requestFields(req)), err, "Failed to record forward audit")
	}
}

func (b *Background) pageReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pageStatusTimeout)
	defer cancel()

	var status bus.PageStatusResult
	if err := b.endpoint.Request(ctx, bus.PageStatus, nil, &status); err != nil {
		apperrors.LogWarn(b.logger, err, "Page status unavailable")
		return false
	}
	return status.Available
}

func (b *Background) announceForward(ctx context.Context, inProgress bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pageStatusTimeout)
	defer cancel()
	if err := b.endpoint.Send(ctx, bus.SetForwardInProgress, bus.ForwardInProgressData{InProgress: inProgress}); err != nil {
		apperrors.LogWarn(b.logger, err, "Failed to announce forward state")
	}
}

func (b *Background) prune(ctx context.Context) {
	if _, err := b.Prune(ctx); err != nil {
		apperrors.LogError(b.logger, err, "Failed to prune ledger")
	}
}

func (b *Background) resume(ctx context.Context) {
	if !b.flags.IsEnabled(features.FlagQueueResumePolling) {
		return
	}
	if b.queue.Len() == 0 || b.queue.Processing() {
		return
	}
	b.logger.WithField(LogFieldCount, b.queue.Len()).Debug("Resuming forward queue")
	b.queue.Drain(ctx)
}
