package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"carelay/internal/bus"
	"carelay/internal/database"
	"carelay/internal/features"
	"carelay/internal/models"
	"carelay/internal/service"
	"carelay/internal/storage"
	"carelay/pkg/page/pagetest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "popup-token-0123456789"

type testServer struct {
	*Server
	store storage.Store
	bg    *service.Background
	flags *features.FlagManager
}

func serverConfig() *models.Config {
	return &models.Config{
		Server: models.ServerConfig{Host: "127.0.0.1", Port: 8087},
		Ledger: models.LedgerConfig{RetentionHours: 72},
		Forwarder: models.ForwarderConfig{
			Destinations:      []string{"Calls"},
			ChatLoadTimeoutMs: 200,
			ChatLoadPollMs:    5,
		},
	}
}

func newTestServer(t *testing.T, token string, forwards ForwardLister) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := serverConfig()
	cfg.Server.APIToken = token
	store := storage.NewMemoryStore()
	flags := features.NewFlagManager()

	bgEnd, pageEnd := bus.NewPair(logger, "background", "page")
	bg := service.NewBackground(bgEnd, store, flags, nil, cfg, logger, nil)
	agent := service.NewPageAgent(pageEnd, pagetest.New(), nil, store, flags, cfg, logger, nil)

	srv := NewServer(cfg.Server, ServerDeps{
		Background: bg,
		Agent:      agent,
		Store:      store,
		Flags:      flags,
		Forwards:   forwards,
		Gatherer:   prometheus.NewRegistry(),
	}, logger, false)
	return &testServer{Server: srv, store: store, bg: bg, flags: flags}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if ts.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+ts.cfg.APIToken)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testToken, nil)
	require.NoError(t, ts.bg.Ledger().MarkSeen(context.Background(), "So11111111111111111111111111111111111111112", "SOL"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	decode(t, rec, &resp)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Page.Connected)
	assert.Equal(t, 0, resp.Queued)
	assert.Equal(t, 1, resp.Processed)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, testToken, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettings_GetDefaults(t *testing.T) {
	ts := newTestServer(t, "", nil)

	rec := ts.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp settingsResponse
	decode(t, rec, &resp)
	assert.Empty(t, resp.WatchedChats)
	assert.EqualValues(t, 10, resp.MaxMessageAgeMinutes)
}

func TestSettings_PutThenGet(t *testing.T) {
	ts := newTestServer(t, testToken, nil)
	age := 30

	rec := ts.do(t, http.MethodPut, "/api/settings", models.SettingsUpdate{
		WatchedChats:         []string{" Alpha Calls ", "Degen Room"},
		MaxMessageAgeMinutes: &age,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp settingsResponse
	decode(t, rec, &resp)
	assert.Equal(t, []string{"Alpha Calls", "Degen Room"}, resp.WatchedChats)
	assert.EqualValues(t, 30, resp.MaxMessageAgeMinutes)

	stored, err := service.ReadSettings(context.Background(), ts.store)
	require.NoError(t, err)
	assert.EqualValues(t, 30*60, stored.MaxMessageAge)
}

func TestSettings_PutRejectsInvalid(t *testing.T) {
	ts := newTestServer(t, "", nil)

	tests := []struct {
		name string
		body string
	}{
		{"age out of range", `{"watchedChats":[],"maxMessageAgeMinutes":0}`},
		{"unknown field", `{"watchedChats":[],"colour":"red"}`},
		{"not json", `watchedChats=Alpha`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()
			ts.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
				RequestID string `json:"request_id"`
			}
			decode(t, rec, &resp)
			assert.Equal(t, "INVALID_INPUT", resp.Error.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestQueueAndLedger(t *testing.T) {
	ts := newTestServer(t, testToken, nil)
	ctx := context.Background()
	require.NoError(t, ts.bg.Ledger().MarkSeen(ctx, "0x52908400098527886E0F7030069857D2E4169EE7", "PEPE"))

	rec := ts.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queue struct {
		Processing bool                    `json:"processing"`
		Items      []models.ForwardRequest `json:"items"`
	}
	decode(t, rec, &queue)
	assert.False(t, queue.Processing)
	assert.Empty(t, queue.Items)

	rec = ts.do(t, http.MethodGet, "/api/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ledger models.ProcessedCAs
	decode(t, rec, &ledger)
	require.Contains(t, ledger, "0x52908400098527886E0F7030069857D2E4169EE7")
	assert.Equal(t, "PEPE", ledger["0x52908400098527886E0F7030069857D2E4169EE7"].Ticker)

	rec = ts.do(t, http.MethodPost, "/api/ledger/prune", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pruned map[string]int
	decode(t, rec, &pruned)
	assert.Equal(t, 0, pruned["removed"])
	assert.Equal(t, 1, ts.bg.Ledger().Len())
}

func TestScan_Accepted(t *testing.T) {
	ts := newTestServer(t, testToken, nil)
	rec := ts.do(t, http.MethodPost, "/api/scan", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestForwards_RequiresSQLite(t *testing.T) {
	ts := newTestServer(t, testToken, nil)
	rec := ts.do(t, http.MethodGet, "/api/forwards", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestForwards_FromDatabase(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "carelay.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for i, ca := range []string{"CA1111", "CA2222", "CA3333"} {
		require.NoError(t, db.RecordForward(ctx, database.ForwardAudit{
			RequestID:  "req_" + ca,
			CA:         ca,
			Chain:      "solana",
			SourceChat: "Alpha Calls",
			Outcome:    "sent",
			CreatedAt:  time.Now().Add(time.Duration(i) * time.Second),
		}))
	}

	ts := newTestServer(t, testToken, db)

	rec := ts.do(t, http.MethodGet, "/api/forwards?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var rows []forwardAuditResponse
	decode(t, rec, &rows)
	assert.Len(t, rows, 2)

	rec = ts.do(t, http.MethodGet, "/api/forwards?limit=9000", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlags_ListAndSet(t *testing.T) {
	ts := newTestServer(t, testToken, nil)

	rec := ts.do(t, http.MethodGet, "/api/flags", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var flags []features.Flag
	decode(t, rec, &flags)
	assert.Len(t, flags, len(features.DefaultFlags))

	rec = ts.do(t, http.MethodPut, "/api/flags/"+features.FlagMessageIDDedup, map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ts.flags.IsEnabled(features.FlagMessageIDDedup))

	rec = ts.do(t, http.MethodPut, "/api/flags/no_such_flag", map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPut, "/api/flags/"+features.FlagMessageIDDedup, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequireToken(t *testing.T) {
	ts := newTestServer(t, testToken, nil)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing", "/api/settings", "", http.StatusUnauthorized},
		{"wrong bearer", "/api/settings", "Bearer nope", http.StatusUnauthorized},
		{"wrong scheme", "/api/settings", "Basic " + testToken, http.StatusUnauthorized},
		{"bearer", "/api/settings", "Bearer " + testToken, http.StatusOK},
		{"query param", "/api/settings?token=" + testToken, "", http.StatusOK},
		{"health is open", "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			ts.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAPIVersionNegotiation(t *testing.T) {
	ts := newTestServer(t, "", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	req.Header.Set("Accept-Version", "0.9")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/version?v=1.1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.1.0", rec.Header().Get("X-Current-Version"))
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, "", nil)
	rec := ts.do(t, http.MethodGet, "/api/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
