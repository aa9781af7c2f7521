package service

import (
	"context"
	"testing"

	"carelay/internal/constants"
	apperrors "carelay/internal/errors"
	"carelay/internal/models"
	"carelay/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSettingsDefaults(t *testing.T) {
	settings, err := ReadSettings(context.Background(), storage.NewMemoryStore())
	require.NoError(t, err)

	assert.Empty(t, settings.WatchedChats)
	assert.NotNil(t, settings.WatchedChats)
	assert.Equal(t, int64(10*60), settings.MaxMessageAge)
}

func TestReadSettingsConvertsMinutes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, storage.SetJSON(ctx, store, constants.KeyWatchedChats, []string{"Alpha"}))
	require.NoError(t, storage.SetJSON(ctx, store, constants.KeyMaxMessageAge, 3))

	settings, err := ReadSettings(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, settings.WatchedChats)
	assert.Equal(t, int64(180), settings.MaxMessageAge)
}

func TestWriteSettingsValidates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	_, err := WriteSettings(ctx, store, models.SettingsUpdate{WatchedChats: []string{"Alpha", " Alpha "}})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, apperrors.GetCode(err))

	zero := 0
	_, err = WriteSettings(ctx, store, models.SettingsUpdate{WatchedChats: []string{"Alpha"}, MaxMessageAgeMinutes: &zero})
	require.Error(t, err)

	found, err := storage.GetJSON(ctx, store, constants.KeyWatchedChats, &[]string{})
	require.NoError(t, err)
	assert.False(t, found, "rejected updates must not be persisted")

	five := 5
	settings, err := WriteSettings(ctx, store, models.SettingsUpdate{WatchedChats: []string{" Alpha", "Beta"}, MaxMessageAgeMinutes: &five})
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta"}, settings.WatchedChats)
	assert.Equal(t, int64(300), settings.MaxMessageAge)
}

func TestSettingsStoreCachesUntilRefresh(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, storage.SetJSON(ctx, store, constants.KeyWatchedChats, []string{"Alpha"}))

	s := NewSettingsStore(store, testLogger(t))
	first, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, first.WatchedChats)

	first.WatchedChats[0] = "mutated"
	require.NoError(t, storage.SetJSON(ctx, store, constants.KeyWatchedChats, []string{"Beta"}))

	cached, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha"}, cached.WatchedChats)

	s.Refresh()
	fresh, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Beta"}, fresh.WatchedChats)
}

func TestWatchedChatsFallsBackToStoredKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	s := NewSettingsStore(store, testLogger(t))
	_, err := s.Load(ctx) // caches an empty list
	require.NoError(t, err)

	require.NoError(t, storage.SetJSON(ctx, store, constants.KeyWatchedChats, []string{"Gamma"}))
	chats, err := s.WatchedChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gamma"}, chats)
}
