package service

import (
	"context"
	"sync"
	"time"

	"carelay/internal/constants"
	apperrors "carelay/internal/errors"
	"carelay/internal/retry"
	"carelay/internal/storage"

	"github.com/sirupsen/logrus"
)

// ExclusionState is the page context's mutual exclusion between scanning and
// forwarding. forwardInProgress is also persisted so the other context can
// observe it.
type ExclusionState struct {
	store       storage.Store
	logger      *logrus.Logger
	waitForScan time.Duration
	pollEvery   time.Duration

	mu            sync.Mutex
	scanning      bool
	forwarding    bool
	remoteForward bool
}

func NewExclusionState(store storage.Store, waitForScan time.Duration, logger *logrus.Logger) *ExclusionState {
	return &ExclusionState{
		store:       store,
		logger:      logger,
		waitForScan: waitForScan,
		pollEvery:   time.Duration(constants.DefaultForwardWaitPollMs) * time.Millisecond,
	}
}

// TryBeginScan takes the scan flag unless a scan or forward is running here
// or the persisted forwardInProgress flag is set.
func (s *ExclusionState) TryBeginScan(ctx context.Context) (bool, error) {
	persisted, err := storage.GetBool(ctx, s.store, constants.KeyForwardInProgress)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if persisted || s.scanning || s.forwarding || s.remoteForward {
		return false, nil
	}
	s.scanning = true
	return true, nil
}

func (s *ExclusionState) EndScan() {
	s.mu.Lock()
	s.scanning = false
	s.mu.Unlock()
}

// BeginForward waits a bounded time for a running scan to finish, then marks
// a forward in progress locally and in the store. The forward proceeds even
// if the scan did not finish in time.
func (s *ExclusionState) BeginForward(ctx context.Context) error {
	finished, err := retry.WaitFor(ctx, s.waitForScan, s.pollEvery, func(context.Context) (bool, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.scanning, nil
	})
	if err != nil {
		return err
	}
	if !finished {
		s.logger.WithField("waited", s.waitForScan.String()).Warn("Scan still running, forwarding anyway")
	}

	s.mu.Lock()
	s.forwarding = true
	s.mu.Unlock()

	if err := storage.SetJSON(ctx, s.store, constants.KeyForwardInProgress, true); err != nil {
		apperrors.LogWarn(s.logger, err, "Failed to persist forward flag")
	}
	return nil
}

// EndForward clears the forward flag locally and in the store.
func (s *ExclusionState) EndForward(ctx context.Context) {
	s.mu.Lock()
	s.forwarding = false
	s.mu.Unlock()

	if err := storage.SetJSON(context.WithoutCancel(ctx), s.store, constants.KeyForwardInProgress, false); err != nil {
		apperrors.LogError(s.logger, err, "Failed to clear persisted forward flag")
	}
}

// SetRemoteForward mirrors SET_FORWARD_IN_PROGRESS from the background context.
func (s *ExclusionState) SetRemoteForward(inProgress bool) {
	s.mu.Lock()
	s.remoteForward = inProgress
	s.mu.Unlock()
}

// Busy reports whether a scan or forward is running or announced.
func (s *ExclusionState) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning || s.forwarding || s.remoteForward
}

// Scanning reports whether the scan flag is held.
func (s *ExclusionState) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}
