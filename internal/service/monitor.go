package service

import (
	"context"
	"slices"
	"time"

	apperrors "carelay/internal/errors"
	"carelay/internal/features"
	"carelay/pkg/page"

	"github.com/sirupsen/logrus"
)

// RecentMonitor classifies the messages of the open chat between scan
// cycles, when that chat is watched and nothing else holds the page.
type RecentMonitor struct {
	adapter   page.Adapter
	settings  *SettingsStore
	state     *ExclusionState
	flags     *features.FlagManager
	collector *collector
	submit    SubmitFunc
	notifier  page.ChangeNotifier
	fallback  time.Duration
	logger    *logrus.Logger
}

// NewRecentMonitor shares the scanner's collector so both paths see the same
// message-id history.
func NewRecentMonitor(scanner *ChatScanner, settings *SettingsStore, state *ExclusionState, flags *features.FlagManager,
	submit SubmitFunc, logger *logrus.Logger) *RecentMonitor {
	fallback := time.Duration(scanner.cfg.RecentMonitorSec) * time.Second
	return &RecentMonitor{
		adapter:   scanner.adapter,
		settings:  settings,
		state:     state,
		flags:     flags,
		collector: scanner.collector,
		submit:    submit,
		notifier:  page.NotifierFor(scanner.adapter, fallback),
		fallback:  fallback,
		logger:    logger,
	}
}

// Run checks the open chat on every change notification until ctx is done.
func (r *RecentMonitor) Run(ctx context.Context) error {
	if !r.flags.IsEnabled(features.FlagRecentMessageMonitor) {
		r.logger.Info("Recent-message monitor disabled")
		return nil
	}

	changes := r.notifier.Changes(ctx)
	if changes == nil {
		// wrapped adapter without push support
		changes = page.PollingNotifier{Interval: r.fallback}.Changes(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			r.Check(ctx)
		}
	}
}

// Check classifies every rendered message of the open chat if it is watched.
// It returns the number of candidates handed to the background.
func (r *RecentMonitor) Check(ctx context.Context) int {
	if r.state.Busy() {
		return 0
	}

	settings, err := r.settings.Load(ctx)
	if err != nil {
		apperrors.LogWarn(r.logger, err, "Failed to load settings for monitor")
		return 0
	}
	watched, err := r.settings.WatchedChats(ctx)
	if err != nil || len(watched) == 0 {
		return 0
	}

	ok, err := r.state.TryBeginScan(ctx)
	if err != nil || !ok {
		return 0
	}

	b, err := r.collectOpenChat(ctx, watched, time.Duration(settings.MaxMessageAge)*time.Second)
	r.state.EndScan()
	if err != nil {
		if ignoreUnavailable(err) != nil {
			apperrors.LogWarn(r.logger, err, "Recent-message check failed")
		}
		if b == nil {
			return 0
		}
	}
	if b == nil || len(b.items) == 0 {
		return 0
	}

	return submitAll(ctx, r.logger, r.submit, b.items)
}

func (r *RecentMonitor) collectOpenChat(ctx context.Context, watched []string, maxAge time.Duration) (*batch, error) {
	title, err := r.adapter.CurrentChatTitle(ctx)
	if err != nil {
		return nil, err
	}
	if title == "" || !slices.Contains(watched, title) {
		return nil, nil
	}

	els, err := r.adapter.ListMessageElements(ctx)
	if err != nil {
		return nil, err
	}

	b := newBatch(title)
	err = r.collector.collect(ctx, b, els, maxAge, "monitor")
	return b, err
}
