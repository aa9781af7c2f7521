package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carelay/internal/constants"
	apperrors "carelay/internal/errors"
	"carelay/internal/extractor"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/retry"
	"carelay/internal/tracing"
	"carelay/pkg/page"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ForwardOutcome classifies a forward attempt.
type ForwardOutcome string

const (
	OutcomeSent    ForwardOutcome = "sent"
	OutcomePartial ForwardOutcome = "partial"
	OutcomeStale   ForwardOutcome = "stale"
	OutcomeFailed  ForwardOutcome = "failed"
)

// Forwarder posts a detected address into the configured destination chats
// and returns to the chat it came from.
type Forwarder struct {
	adapter page.Adapter
	state   *ExclusionState
	cfg     models.ForwarderConfig
	logger  *logrus.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter
	now     func() time.Time
}

func NewForwarder(adapter page.Adapter, state *ExclusionState, cfg models.ForwarderConfig, logger *logrus.Logger, m *metrics.Metrics) *Forwarder {
	if cfg.MaxRequestAgeSec <= 0 {
		cfg.MaxRequestAgeSec = constants.ForwardRequestMaxAgeSec
	}
	if cfg.ChatLoadTimeoutMs <= 0 {
		cfg.ChatLoadTimeoutMs = constants.DefaultChatLoadTimeoutMs
	}
	if cfg.ChatLoadPollMs <= 0 {
		cfg.ChatLoadPollMs = constants.DefaultChatLoadPollMs
	}
	f := &Forwarder{
		adapter: adapter,
		state:   state,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	if cfg.MinSendIntervalMs > 0 {
		f.limiter = rate.NewLimiter(rate.Every(time.Duration(cfg.MinSendIntervalMs)*time.Millisecond), 1)
	}
	return f
}

// ComposeMessage renders the forwarded text. An empty ticker drops the
// Ticker line when omitEmptyTicker is set.
func ComposeMessage(source, ticker, ca string, omitEmptyTicker bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\n\n", source)
	if ticker != "" || !omitEmptyTicker {
		fmt.Fprintf(&b, "Ticker: %s\n\n", ticker)
	}
	fmt.Fprintf(&b, "CA: %s\n\n", ca)
	return b.String()
}

// Forward runs the forward protocol once for req. Requests older than the
// configured maximum age are dropped without touching the page.
func (f *Forwarder) Forward(ctx context.Context, req models.ForwardRequest) (outcome ForwardOutcome, err error) {
	start := f.now()
	log := f.logger.WithFields(requestFields(req))

	ctx, span := tracing.StartSpan(ctx, "forwarder.forward",
		attribute.String("ca", req.CA),
		attribute.String("chain", string(req.Chain)),
	)
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		tracing.RecordError(ctx, err)
		span.End()
		f.metrics.RecordForward(string(req.Chain), string(outcome), f.now().Sub(start))
	}()

	maxAge := time.Duration(f.cfg.MaxRequestAgeSec) * time.Second
	if extractor.IsStale(req.Timestamp, f.now(), maxAge) {
		log.WithField("age", f.now().Sub(time.Unix(req.Timestamp, 0)).Round(time.Second).String()).
			Warn("Skipping forward: request is stale")
		return OutcomeStale, nil
	}

	if len(f.cfg.Destinations) == 0 {
		return OutcomeFailed, apperrors.NewConfigError("forwarder.destinations", "no destination chats configured")
	}

	if err := f.state.BeginForward(ctx); err != nil {
		return OutcomeFailed, err
	}
	defer f.state.EndForward(ctx)

	source := req.ChatTitle
	if source == "" {
		source, err = f.adapter.CurrentChatTitle(ctx)
		if err != nil {
			return OutcomeFailed, fmt.Errorf("read source chat: %w", err)
		}
	}

	text := ComposeMessage(source, req.Ticker, req.CA, f.cfg.OmitsEmptyTicker())

	var errs []error
	sent := 0
	for _, dest := range f.cfg.Destinations {
		if err := f.sendTo(ctx, dest, text); err != nil {
			apperrors.LogWarn(log.WithField(LogFieldDestination, dest), err, "Failed to forward to destination")
			errs = append(errs, err)
			continue
		}
		sent++
		log.WithField(LogFieldDestination, dest).Info("Forwarded contract address")
	}

	if source != "" {
		f.returnTo(ctx, log, source)
	}

	switch {
	case len(errs) == 0:
		return OutcomeSent, nil
	case sent > 0:
		return OutcomePartial, errors.Join(errs...)
	default:
		return OutcomeFailed, errors.Join(errs...)
	}
}

func (f *Forwarder) sendTo(ctx context.Context, dest, text string) error {
	if err := f.openChat(ctx, dest, page.MatchSubstring); err != nil {
		return err
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	ok, err := f.adapter.ComposeAndSend(ctx, text)
	if err != nil {
		return fmt.Errorf("compose in %q: %w", dest, err)
	}
	if !ok {
		return apperrors.NewComposeError(dest)
	}

	return retry.Sleep(ctx, time.Duration(f.cfg.SendSettleMs)*time.Millisecond)
}

// openChat finds title in the sidebar, clicks it and waits for the header to
// show it.
func (f *Forwarder) openChat(ctx context.Context, title string, mode page.MatchMode) error {
	chats, err := f.adapter.ListSidebarChats(ctx)
	if err != nil {
		return fmt.Errorf("list sidebar: %w", err)
	}
	chat, found := page.FindChat(chats, title, mode)
	if !found {
		return apperrors.NewTargetNotFoundError("destination", title)
	}
	if err := f.adapter.ClickChat(ctx, chat.Title); err != nil {
		return fmt.Errorf("open %q: %w", chat.Title, err)
	}

	timeout := time.Duration(f.cfg.ChatLoadTimeoutMs) * time.Millisecond
	loaded, err := page.WaitForTitle(ctx, f.adapter, title, mode, timeout,
		time.Duration(f.cfg.ChatLoadPollMs)*time.Millisecond)
	if err != nil {
		return err
	}
	if !loaded {
		return apperrors.NewTimeoutError(fmt.Sprintf("open chat %q", title), timeout)
	}
	return nil
}

// returnTo navigates back to the source chat. Failures are logged only; the
// forward itself already happened.
func (f *Forwarder) returnTo(ctx context.Context, log *logrus.Entry, source string) {
	chats, err := f.adapter.ListSidebarChats(ctx)
	if err != nil {
		apperrors.LogWarn(log, err, "Failed to list sidebar for return navigation")
		return
	}
	if _, found := page.FindChat(chats, source, page.MatchExact); !found {
		log.Warn("Original chat not found, staying on destination")
		return
	}
	if err := f.adapter.ClickChat(ctx, source); err != nil {
		apperrors.LogWarn(log, err, "Failed to return to original chat")
		return
	}
	timeout := time.Duration(f.cfg.ChatLoadTimeoutMs) * time.Millisecond
	if ok, err := page.WaitForTitle(ctx, f.adapter, source, page.MatchExact, timeout,
		time.Duration(f.cfg.ChatLoadPollMs)*time.Millisecond); err != nil || !ok {
		log.Debug("Original chat did not finish loading")
	}
}
