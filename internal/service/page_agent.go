package service

import (
	"context"
	"encoding/json"
	"time"

	"carelay/internal/bus"
	"carelay/internal/constants"
	apperrors "carelay/internal/errors"
	"carelay/internal/features"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/storage"
	"carelay/internal/validation"
	"carelay/pkg/circuitbreaker"
	"carelay/pkg/page"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PageAgent is the page-bound context. It owns everything that touches the
// page and answers the background context over the bus.
type PageAgent struct {
	endpoint  *bus.Endpoint
	adapter   page.Adapter
	breaker   *circuitbreaker.CircuitBreaker
	settings  *SettingsStore
	state     *ExclusionState
	forwarder *Forwarder
	scanner   *ChatScanner
	monitor   *RecentMonitor
	logger    *logrus.Logger

	queueTimeout   time.Duration
	forwardTimeout time.Duration
}

// NewPageAgent wires the page context. breaker may be nil when the adapter
// is not guarded.
func NewPageAgent(endpoint *bus.Endpoint, adapter page.Adapter, breaker *circuitbreaker.CircuitBreaker, store storage.Store,
	flags *features.FlagManager, cfg *models.Config, logger *logrus.Logger, m *metrics.Metrics) *PageAgent {
	waitForScan := cfg.Forwarder.WaitForScanSec
	if waitForScan <= 0 {
		waitForScan = constants.DefaultForwardWaitForScanSec
	}
	forwardTimeout := cfg.Forwarder.RequestTimeoutSec
	if forwardTimeout <= 0 {
		forwardTimeout = constants.DefaultForwardRequestTimeoutSec
	}

	a := &PageAgent{
		endpoint:       endpoint,
		adapter:        adapter,
		breaker:        breaker,
		settings:       NewSettingsStore(store, logger),
		state:          NewExclusionState(store, time.Duration(waitForScan)*time.Second, logger),
		logger:         logger,
		forwardTimeout: time.Duration(forwardTimeout) * time.Second,
	}
	a.forwarder = NewForwarder(adapter, a.state, cfg.Forwarder, logger, m)
	a.scanner = NewChatScanner(adapter, a.settings, a.state, flags, a.submit, cfg.Scanner, logger, m)
	a.monitor = NewRecentMonitor(a.scanner, a.settings, a.state, flags, a.submit, logger)
	a.queueTimeout = time.Duration(a.scanner.cfg.QueueRequestTimeoutSec) * time.Second

	endpoint.Handle(bus.ForwardCA, a.handleForwardCA)
	endpoint.Handle(bus.SetForwardInProgress, a.handleSetForwardInProgress)
	endpoint.Handle(bus.StartScan, a.handleStartScan)
	endpoint.Handle(bus.PageStatus, a.handlePageStatus)
	return a
}

// Run serves the bus and runs the scanner and monitor until ctx is cancelled.
func (a *PageAgent) Run(ctx context.Context) error {
	log := a.logger.WithField(LogFieldContext, "page")
	log.Info("Starting page agent")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.endpoint.Run(ctx) })
	g.Go(func() error { return a.scanner.Run(ctx) })
	g.Go(func() error { return a.monitor.Run(ctx) })
	err := g.Wait()

	log.Info("Page agent stopped")
	return err
}

// RefreshSettings drops the cached runtime settings.
func (a *PageAgent) RefreshSettings() {
	a.settings.Refresh()
}

// Status reports whether the page can take calls right now.
func (a *PageAgent) Status() bus.PageStatusResult {
	connected := page.IsConnected(a.adapter)
	status := bus.PageStatusResult{Connected: connected, Available: connected}
	if a.breaker != nil {
		status.Breaker = a.breaker.State().String()
		status.Available = connected && a.breaker.Allow()
	}
	return status
}

func (a *PageAgent) submit(ctx context.Context, req models.ForwardRequest) error {
	ctx, cancel := context.WithTimeout(ctx, a.queueTimeout)
	defer cancel()

	var res bus.QueueCAResult
	if err := a.endpoint.Request(ctx, bus.QueueCA, req, &res); err != nil {
		return err
	}
	if res.Duplicate {
		a.logger.WithFields(requestFields(req)).Debug("Address already processed")
	}
	return nil
}

func (a *PageAgent) handleForwardCA(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var req bus.ForwardCAData
	if err := bus.Decode(data, &req); err != nil {
		return nil, err
	}
	if err := validation.ValidateForwardRequest(req); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.forwardTimeout)
	defer cancel()

	outcome, err := a.forwarder.Forward(ctx, req)
	res := bus.ForwardCAResult{Outcome: string(outcome)}
	if err != nil {
		res.Error = err.Error()
		res.Code = string(apperrors.GetCode(err))
	}
	return res, nil
}

func (a *PageAgent) handleSetForwardInProgress(_ context.Context, data json.RawMessage) (interface{}, error) {
	var msg bus.ForwardInProgressData
	if err := bus.Decode(data, &msg); err != nil {
		return nil, err
	}
	a.state.SetRemoteForward(msg.InProgress)
	return nil, nil
}

func (a *PageAgent) handleStartScan(context.Context, json.RawMessage) (interface{}, error) {
	a.logger.Debug("Scan requested")
	a.scanner.Trigger()
	return nil, nil
}

func (a *PageAgent) handlePageStatus(context.Context, json.RawMessage) (interface{}, error) {
	return a.Status(), nil
}
