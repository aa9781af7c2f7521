package config

import (
	"context"
	"os"
	"reflect"
	"sync"
	"time"

	"carelay/internal/models"

	"github.com/sirupsen/logrus"
)

const defaultWatchInterval = 5 * time.Second

// section is one top-level config key and whether a running relay picks up
// a new value without a restart.
type section struct {
	key  string
	live bool
	get  func(*models.Config) any
}

// The serve command's reload callback applies the log level and feature
// flags and drops the page agent's settings cache. Every other section is
// read once when the services are built.
var sections = []section{
	{"log_level", true, func(c *models.Config) any { return c.LogLevel }},
	{"features", true, func(c *models.Config) any { return c.Features }},
	{"scanner", false, func(c *models.Config) any { return c.Scanner }},
	{"forwarder", false, func(c *models.Config) any { return c.Forwarder }},
	{"queue", false, func(c *models.Config) any { return c.Queue }},
	{"ledger", false, func(c *models.Config) any { return c.Ledger }},
	{"retry", false, func(c *models.Config) any { return c.Retry }},
	{"page", false, func(c *models.Config) any { return c.Page }},
	{"storage", false, func(c *models.Config) any { return c.Storage }},
	{"server", false, func(c *models.Config) any { return c.Server }},
	{"tracing", false, func(c *models.Config) any { return c.Tracing }},
}

// ConfigWatcher polls the relay's config file and hands each successfully
// parsed revision to the registered callbacks.
type ConfigWatcher struct {
	configPath string
	interval   time.Duration
	logger     *logrus.Logger

	mu        sync.RWMutex
	config    *models.Config
	callbacks []func(*models.Config)
}

func NewConfigWatcher(configPath string, logger *logrus.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		configPath: configPath,
		interval:   defaultWatchInterval,
		logger:     logger,
	}
}

// Start loads the file and polls its modification time until ctx is done.
// It fails only when the first load or stat fails.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cfg, err := LoadConfig(cw.configPath)
	if err != nil {
		return err
	}
	stat, err := os.Stat(cw.configPath)
	if err != nil {
		return err
	}
	cw.mu.Lock()
	cw.config = cfg
	cw.mu.Unlock()

	seen := stat.ModTime()
	log := cw.logger.WithField("path", cw.configPath)
	log.Info("Watching config for live changes")

	ticker := time.NewTicker(cw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("Config watcher stopping")
			return nil
		case <-ticker.C:
		}

		stat, err := os.Stat(cw.configPath)
		if err != nil {
			log.WithError(err).Error("Failed to stat config file")
			continue
		}
		if !stat.ModTime().After(seen) {
			continue
		}
		seen = stat.ModTime()
		// editors write in more than one step
		time.Sleep(100 * time.Millisecond)
		cw.reloadConfig()
	}
}

func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// reloadConfig keeps the previous revision when the file no longer parses.
func (cw *ConfigWatcher) reloadConfig() {
	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Config reload failed; keeping previous settings")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	callbacks := append(([]func(*models.Config))(nil), cw.callbacks...)
	cw.mu.Unlock()

	cw.logReload(prev, next)

	for _, cb := range callbacks {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					cw.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(next)
		}()
	}
}

// changedSections splits the top-level keys that differ between prev and
// next into those applied on reload and those that need a restart.
func changedSections(prev, next *models.Config) (live, restart []string) {
	if prev == nil || next == nil {
		return nil, nil
	}
	for _, s := range sections {
		if reflect.DeepEqual(s.get(prev), s.get(next)) {
			continue
		}
		if s.live {
			live = append(live, s.key)
		} else {
			restart = append(restart, s.key)
		}
	}
	return live, restart
}

func (cw *ConfigWatcher) logReload(prev, next *models.Config) {
	live, restart := changedSections(prev, next)
	if len(live) == 0 && len(restart) == 0 {
		cw.logger.Debug("Config file touched with no effective change")
		return
	}
	if len(live) > 0 {
		cw.logger.WithField("keys", live).Info("Config change applied")
	}
	if len(restart) > 0 {
		cw.logger.WithField("keys", restart).Warn("Config change needs a restart to apply")
	}
}
