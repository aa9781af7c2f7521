package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailedLoggingMiddleware(t *testing.T) {
	logger, lines := jsonLogger(logrus.DebugLevel)

	var handlerBody string
	handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			handlerBody = string(b)
		}))

	body := `{"watchedChats":["Alpha"]}`
	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, body, handlerBody, "body must be restored for the handler")

	entries := lines.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, body, entries[0]["request_body"])
	headers, ok := entries[0]["request_headers"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, maskedValue, headers["Authorization"])
	assert.Equal(t, "application/json", headers["Content-Type"])
}

func TestDetailedLoggingMiddleware_Skips(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
		logs int
		body bool
	}{
		{
			name: "page socket",
			req:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/ws/page", nil) },
		},
		{
			name: "metrics",
			req:  func() *http.Request { return httptest.NewRequest(http.MethodGet, "/metrics", nil) },
		},
		{
			name: "non-JSON body is not logged",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader("raw"))
				r.Header.Set("Content-Type", "text/plain")
				return r
			},
			logs: 1,
		},
		{
			name: "oversized body is not logged",
			req: func() *http.Request {
				r := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(strings.Repeat("x", 5000)))
				r.Header.Set("Content-Type", "application/json")
				return r
			},
			logs: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, lines := jsonLogger(logrus.DebugLevel)
			handler := DetailedLoggingMiddleware(logger, DefaultDetailedLoggingConfig())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
			handler.ServeHTTP(httptest.NewRecorder(), tt.req())

			entries := lines.entries(t)
			require.Len(t, entries, tt.logs)
			for _, e := range entries {
				_, has := e["request_body"]
				assert.Equal(t, tt.body, has)
			}
		})
	}
}

func TestIsSensitiveHeader(t *testing.T) {
	sensitive := DefaultDetailedLoggingConfig().SensitiveHeaders
	assert.True(t, isSensitiveHeader("Authorization", sensitive))
	assert.True(t, isSensitiveHeader("COOKIE", sensitive))
	assert.False(t, isSensitiveHeader("Content-Type", sensitive))
}
