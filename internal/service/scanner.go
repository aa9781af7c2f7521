package service

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"carelay/internal/constants"
	apperrors "carelay/internal/errors"
	"carelay/internal/features"
	"carelay/internal/metrics"
	"carelay/internal/models"
	"carelay/internal/retry"
	"carelay/internal/tracing"
	"carelay/pkg/page"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Scan cycle results, used as the metric label and returned by RunCycle.
const (
	ScanBusy    = "busy"
	ScanNoChats = "no_chats"
	ScanIdle    = "idle"
	ScanDone    = "scanned"
	ScanError   = "error"
)

// ChatScanner visits the watched chats round-robin and reads the unread
// messages of at most one chat per cycle.
type ChatScanner struct {
	adapter   page.Adapter
	settings  *SettingsStore
	state     *ExclusionState
	collector *collector
	submit    SubmitFunc
	cfg       models.ScannerConfig
	logger    *logrus.Logger
	metrics   *metrics.Metrics
	scheduler *Scheduler

	mu     sync.Mutex
	cursor int
}

func NewChatScanner(adapter page.Adapter, settings *SettingsStore, state *ExclusionState, flags *features.FlagManager,
	submit SubmitFunc, cfg models.ScannerConfig, logger *logrus.Logger, m *metrics.Metrics) *ChatScanner {
	cfg = scannerDefaults(cfg)
	s := &ChatScanner{
		adapter:  adapter,
		settings: settings,
		state:    state,
		collector: &collector{
			adapter: adapter,
			flags:   flags,
			seen:    newSeenMessages(cfg.SeenMessageIDsPerChat),
			logger:  logger,
			metrics: m,
			now:     time.Now,
		},
		submit:  submit,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
	s.scheduler = NewScheduler("chat-scanner", time.Duration(cfg.CycleDelaySec)*time.Second, true,
		func(ctx context.Context) { s.RunCycle(ctx) }, logger)
	return s
}

func scannerDefaults(cfg models.ScannerConfig) models.ScannerConfig {
	if cfg.CycleDelaySec <= 0 {
		cfg.CycleDelaySec = constants.DefaultScanCycleDelaySec
	}
	if cfg.OpenChatAttempts <= 0 {
		cfg.OpenChatAttempts = constants.DefaultOpenChatAttempts
	}
	if cfg.OpenChatPollMs <= 0 {
		cfg.OpenChatPollMs = constants.DefaultOpenChatPollMs
	}
	if cfg.MaxScrollPasses <= 0 {
		cfg.MaxScrollPasses = constants.DefaultMaxScrollPasses
	}
	if cfg.MessageMaxAgeSec <= 0 {
		cfg.MessageMaxAgeSec = constants.ScanMessageMaxAgeSec
	}
	if cfg.SidebarPollMs <= 0 {
		cfg.SidebarPollMs = constants.DefaultSidebarPollMs
	}
	if cfg.RecentMonitorSec <= 0 {
		cfg.RecentMonitorSec = constants.DefaultRecentMonitorSec
	}
	if cfg.SeenMessageIDsPerChat <= 0 {
		cfg.SeenMessageIDsPerChat = constants.DefaultSeenMessageIDsPerChat
	}
	if cfg.QueueRequestTimeoutSec <= 0 {
		cfg.QueueRequestTimeoutSec = constants.DefaultQueueCARequestTimeoutSec
	}
	return cfg
}

// Run waits for the sidebar to list chats, then runs scan cycles until ctx
// is cancelled.
func (s *ChatScanner) Run(ctx context.Context) error {
	if err := s.waitForSidebar(ctx); err != nil {
		return nil
	}
	s.scheduler.Start(ctx)
	return nil
}

// Trigger asks for a scan cycle as soon as possible.
func (s *ChatScanner) Trigger() {
	s.scheduler.Trigger()
}

func (s *ChatScanner) Stop() {
	s.scheduler.Stop()
}

func (s *ChatScanner) waitForSidebar(ctx context.Context) error {
	interval := time.Duration(s.cfg.SidebarPollMs) * time.Millisecond
	logged := false
	for {
		chats, err := s.adapter.ListSidebarChats(ctx)
		if err == nil && len(chats) > 0 {
			s.logger.WithField(LogFieldCount, len(chats)).Info("Sidebar ready, starting chat scanner")
			return nil
		}
		if !logged {
			s.logger.Debug("Waiting for sidebar to load")
			logged = true
		}
		if err := retry.Sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// RunCycle performs one scan cycle and returns its result.
func (s *ChatScanner) RunCycle(ctx context.Context) (result string) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "scanner.cycle")
	defer func() {
		span.SetAttributes(attribute.String("result", result))
		span.End()
		s.metrics.RecordScanCycle(result, time.Since(start))
	}()

	ok, err := s.state.TryBeginScan(ctx)
	if err != nil {
		apperrors.LogWarn(s.logger, err, "Failed to read forward flag")
		return ScanError
	}
	if !ok {
		s.logger.Debug("Skipping scan cycle: scan or forward in progress")
		return ScanBusy
	}

	chat, items, result := s.scanNext(ctx)
	s.state.EndScan()

	if len(items) > 0 {
		queued := submitAll(ctx, s.logger, s.submit, items)
		s.logger.WithFields(logrus.Fields{
			LogFieldChat:  chat,
			LogFieldCount: queued,
		}).Info("Queued addresses from unread messages")
	}
	return result
}

// scanNext advances the cursor until one watched chat is opened and scanned.
func (s *ChatScanner) scanNext(ctx context.Context) (string, []models.ForwardRequest, string) {
	watched, err := s.settings.WatchedChats(ctx)
	if err != nil {
		apperrors.LogWarn(s.logger, err, "Failed to load watched chats")
		return "", nil, ScanError
	}
	if len(watched) == 0 {
		return "", nil, ScanNoChats
	}

	sidebar, err := s.adapter.ListSidebarChats(ctx)
	if err != nil {
		if !errors.Is(err, page.ErrPageUnavailable) {
			apperrors.LogWarn(s.logger, err, "Failed to list sidebar chats")
		}
		return "", nil, ScanError
	}

	for range watched {
		title := s.advance(watched)
		log := s.logger.WithField(LogFieldChat, title)

		entry, found := page.FindChat(sidebar, title, page.MatchExact)
		if !found {
			log.Debug("Watched chat not in sidebar")
			continue
		}
		if !entry.HasUnread {
			continue
		}

		opened, err := s.openChat(ctx, title)
		if err != nil {
			apperrors.LogWarn(log, err, "Failed to open watched chat")
			return title, nil, ScanError
		}
		if !opened {
			log.Warn("Watched chat did not open in time")
			continue
		}

		b := newBatch(title)
		if err := s.scanUnread(ctx, b); err != nil {
			apperrors.LogWarn(log, err, "Unread scan stopped early")
		}
		return title, b.items, ScanDone
	}
	return "", nil, ScanIdle
}

// advance moves the cursor one step and returns the chat it now points at.
func (s *ChatScanner) advance(watched []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = (s.cursor + 1) % len(watched)
	return watched[s.cursor]
}

// openChat clicks title and waits until its header and message list show.
func (s *ChatScanner) openChat(ctx context.Context, title string) (bool, error) {
	if err := s.adapter.ClickChat(ctx, title); err != nil {
		return false, err
	}
	return retry.PollAttempts(ctx, s.cfg.OpenChatAttempts, time.Duration(s.cfg.OpenChatPollMs)*time.Millisecond,
		func(ctx context.Context) (bool, error) {
			current, err := s.adapter.CurrentChatTitle(ctx)
			if err != nil || current != title {
				return false, ignoreUnavailable(err)
			}
			present, err := s.adapter.HasMessageList(ctx)
			return present, ignoreUnavailable(err)
		})
}

// scanUnread reads from the first-unread marker to the end of the rendered
// list, scrolling down until no new elements appear.
func (s *ChatScanner) scanUnread(ctx context.Context, b *batch) error {
	maxAge := time.Duration(s.cfg.MessageMaxAgeSec) * time.Second
	prevCount := 0

	for pass := 1; pass <= s.cfg.MaxScrollPasses; pass++ {
		marker, found, err := s.adapter.FirstUnreadMarker(ctx)
		if err != nil {
			return err
		}
		if !found {
			break
		}
		if err := s.adapter.ScrollIntoView(ctx, marker, page.BlockCenter); err != nil {
			return err
		}
		if err := retry.Sleep(ctx, time.Duration(s.cfg.MarkerSettleMs)*time.Millisecond); err != nil {
			return err
		}

		els, err := s.adapter.ListMessageElements(ctx)
		if err != nil {
			return err
		}
		idx := slices.Index(els, marker)
		if idx < 0 {
			break
		}
		unread := els[idx:]
		if len(unread) == prevCount {
			break
		}

		fresh := unread
		if prevCount < len(unread) {
			fresh = unread[prevCount:]
		}
		s.logger.WithFields(logrus.Fields{
			LogFieldChat:  b.chat,
			LogFieldPass:  pass,
			LogFieldCount: len(fresh),
		}).Debug("Reading unread messages")

		if err := s.collector.collect(ctx, b, fresh, maxAge, "scan"); err != nil {
			return err
		}
		prevCount = len(unread)

		if err := s.adapter.ScrollIntoView(ctx, unread[len(unread)-1], page.BlockEnd); err != nil {
			return err
		}
		if err := retry.Sleep(ctx, time.Duration(s.cfg.ScrollSettleMs)*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func ignoreUnavailable(err error) error {
	if errors.Is(err, page.ErrPageUnavailable) {
		return nil
	}
	return err
}
