package integration_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"carelay/internal/bus"
	"carelay/internal/database"
	"carelay/internal/features"
	"carelay/internal/models"
	"carelay/internal/service"
	"carelay/pkg/page/pagetest"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const testEncryptionSecret = "integration-secret-0123456789abcdef"

// TestEnvironment is a relay wired to a scripted page and an encrypted
// sqlite file that outlives individual relay runs.
type TestEnvironment struct {
	t      *testing.T
	dbPath string
	logger *logrus.Logger
	Page   *pagetest.Page
	Config *models.Config
}

func NewTestEnvironment(t *testing.T, p *pagetest.Page) *TestEnvironment {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return &TestEnvironment{
		t:      t,
		dbPath: filepath.Join(t.TempDir(), "carelay.db"),
		logger: logger,
		Page:   p,
		Config: &models.Config{
			Scanner: models.ScannerConfig{
				OpenChatAttempts: 5,
				OpenChatPollMs:   1,
				SidebarPollMs:    5,
				RecentMonitorSec: 3600,
			},
			Forwarder: models.ForwarderConfig{
				Destinations:      []string{"Calls"},
				ChatLoadTimeoutMs: 200,
				ChatLoadPollMs:    5,
			},
		},
	}
}

// OpenDB opens the environment's database. The caller closes it.
func (e *TestEnvironment) OpenDB() *database.Database {
	e.t.Helper()
	db, err := database.New(e.dbPath, testEncryptionSecret)
	require.NoError(e.t, err)
	return db
}

// Relay is one running pair of background and page contexts.
type Relay struct {
	DB         *database.Database
	Background *service.Background
	Agent      *service.PageAgent

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Start runs a relay until Stop or the end of the test.
func (e *TestEnvironment) Start() *Relay {
	e.t.Helper()
	db := e.OpenDB()
	flags := features.NewFlagManager()
	bgEnd, pageEnd := bus.NewPair(e.logger, "background", "page")

	r := &Relay{
		DB:         db,
		Background: service.NewBackground(bgEnd, db, flags, db, e.Config, e.logger, nil),
		Agent:      service.NewPageAgent(pageEnd, e.Page, nil, db, flags, e.Config, e.logger, nil),
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		_ = r.Background.Run(ctx)
	}()
	go func() {
		defer r.wg.Done()
		_ = r.Agent.Run(ctx)
	}()

	e.t.Cleanup(r.Stop)
	return r
}

// Stop cancels the relay, waits for both contexts and closes the database.
// It is safe to call more than once.
func (r *Relay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil
	_ = r.DB.Close()
}

// Idle reports whether the background holds no pending forwards.
func (r *Relay) Idle() bool {
	q := r.Background.Queue()
	return q.Len() == 0 && !q.Processing()
}
