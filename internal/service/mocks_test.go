package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"carelay/internal/database"
	"carelay/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
)

func testLogger(t *testing.T) *logrus.Logger {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

// mockAuditor records forward audit rows.
type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) RecordForward(ctx context.Context, a database.ForwardAudit) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

var errStoreDown = errors.New("store down")

// failingStore wraps a MemoryStore and fails writes to selected keys.
type failingStore struct {
	*storage.MemoryStore

	mu       sync.Mutex
	failKeys map[string]bool
}

func newFailingStore() *failingStore {
	return &failingStore{MemoryStore: storage.NewMemoryStore(), failKeys: make(map[string]bool)}
}

func (f *failingStore) failWrites(key string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failKeys[key] = fail
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failKeys[key]
	f.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return f.MemoryStore.Set(ctx, key, value)
}
