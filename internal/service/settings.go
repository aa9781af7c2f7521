package service

import (
	"context"
	"sync"

	"carelay/internal/constants"
	"carelay/internal/models"
	"carelay/internal/storage"
	"carelay/internal/validation"

	"github.com/sirupsen/logrus"
)

// SettingsStore is the page context's cached view of the user's watch-list
// and message age gate. A stale cache is acceptable; Refresh forces a reload.
type SettingsStore struct {
	store  storage.Store
	logger *logrus.Logger

	mu     sync.Mutex
	cached *models.RuntimeSettings
}

func NewSettingsStore(store storage.Store, logger *logrus.Logger) *SettingsStore {
	return &SettingsStore{store: store, logger: logger}
}

// Load returns the cached settings, reading the store on first use.
func (s *SettingsStore) Load(ctx context.Context) (models.RuntimeSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return copySettings(*s.cached), nil
	}

	settings, err := ReadSettings(ctx, s.store)
	if err != nil {
		return models.RuntimeSettings{}, err
	}
	s.cached = &settings

	s.logger.WithFields(logrus.Fields{
		LogFieldCount:   len(settings.WatchedChats),
		"maxMessageAge": settings.MaxMessageAge,
	}).Debug("Loaded runtime settings")
	return copySettings(settings), nil
}

// Refresh drops the cache so the next Load reads the store.
func (s *SettingsStore) Refresh() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// WatchedChats returns the cached watch-list, falling back to the stored key
// when the cached list is empty.
func (s *SettingsStore) WatchedChats(ctx context.Context) ([]string, error) {
	settings, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if len(settings.WatchedChats) > 0 {
		return settings.WatchedChats, nil
	}

	var chats []string
	if _, err := storage.GetJSON(ctx, s.store, constants.KeyWatchedChats, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// ReadSettings reads settings straight from the store. maxMessageAge is
// stored in minutes and returned in seconds.
func ReadSettings(ctx context.Context, store storage.Store) (models.RuntimeSettings, error) {
	var chats []string
	if _, err := storage.GetJSON(ctx, store, constants.KeyWatchedChats, &chats); err != nil {
		return models.RuntimeSettings{}, err
	}

	minutes := int64(constants.DefaultMaxMessageAgeMinutes)
	var stored int64
	found, err := storage.GetJSON(ctx, store, constants.KeyMaxMessageAge, &stored)
	if err != nil {
		return models.RuntimeSettings{}, err
	}
	if found && stored > 0 {
		minutes = stored
	}

	if chats == nil {
		chats = []string{}
	}
	return models.RuntimeSettings{WatchedChats: chats, MaxMessageAge: minutes * 60}, nil
}

// WriteSettings validates and persists a settings update. It is the write path
// used by the HTTP API and the CLI.
func WriteSettings(ctx context.Context, store storage.Store, update models.SettingsUpdate) (models.RuntimeSettings, error) {
	normalized, err := validation.ValidateSettingsUpdate(update)
	if err != nil {
		return models.RuntimeSettings{}, err
	}

	if err := storage.SetJSON(ctx, store, constants.KeyWatchedChats, normalized.WatchedChats); err != nil {
		return models.RuntimeSettings{}, err
	}
	if normalized.MaxMessageAgeMinutes != nil {
		if err := storage.SetJSON(ctx, store, constants.KeyMaxMessageAge, *normalized.MaxMessageAgeMinutes); err != nil {
			return models.RuntimeSettings{}, err
		}
	}
	return ReadSettings(ctx, store)
}

func copySettings(s models.RuntimeSettings) models.RuntimeSettings {
	s.WatchedChats = append([]string(nil), s.WatchedChats...)
	return s
}
