package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler runs a task repeatedly. The next run is scheduled only after the
// previous one returns, so runs never overlap. Trigger requests an early run.
type Scheduler struct {
	name       string
	task       func(ctx context.Context)
	interval   time.Duration
	runAtStart bool
	logger     *logrus.Logger

	trigger  chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(name string, interval time.Duration, runAtStart bool, task func(ctx context.Context), logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		name:       name,
		task:       task,
		interval:   interval,
		runAtStart: runAtStart,
		logger:     logger,
		trigger:    make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
}

// Start blocks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	log := s.logger.WithField(LogFieldComponent, s.name)
	log.WithField("interval", s.interval.String()).Info("Starting scheduler")

	if s.runAtStart {
		s.run(ctx)
	}

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			log.Info("Scheduler stop signal received, stopping")
			return
		case <-timer.C:
		case <-s.trigger:
			log.Debug("Scheduler triggered")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		s.run(ctx)
		timer.Reset(s.interval)
	}
}

// Trigger asks for a run as soon as the current one, if any, has finished.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				LogFieldComponent: s.name,
				"panic":           r,
			}).Error("Scheduled task panicked")
		}
	}()
	if ctx.Err() != nil {
		return
	}
	s.task(ctx)
}
