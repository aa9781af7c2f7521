package versioning

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionMiddleware(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	vm := NewVersionMiddleware(logger)

	tests := []struct {
		name       string
		target     string
		header     string
		wantStatus int
		wantVer    APIVersion
	}{
		{name: "no version means current", target: "/api/queue", wantStatus: http.StatusOK, wantVer: CurrentVersion},
		{name: "header", target: "/api/queue", header: "1.0.0", wantStatus: http.StatusOK, wantVer: V1_0_0},
		{name: "shim query parameter", target: "/ws/page?v=1.1", wantStatus: http.StatusOK, wantVer: V1_1_0},
		{name: "header wins over query", target: "/ws/page?v=1.1", header: "1.0", wantStatus: http.StatusOK, wantVer: V1_0_0},
		{name: "too old", target: "/api/queue", header: "0.9.0", wantStatus: http.StatusUpgradeRequired},
		{name: "too new", target: "/api/queue", header: "2.0.0", wantStatus: http.StatusNotImplemented},
		{name: "garbage", target: "/api/queue", header: "latest", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got APIVersion
			var called bool
			handler := vm.VersionHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				got, _ = FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(AcceptVersionHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, CurrentVersion.String(), rec.Header().Get(CurrentVersionHeader))
			assert.Equal(t, GetVersionRange(), rec.Header().Get(SupportedVersionsHeader))

			if tt.wantStatus != http.StatusOK {
				assert.False(t, called)
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				errObj, ok := body["error"].(map[string]interface{})
				require.True(t, ok)
				assert.Equal(t, "VERSION_INCOMPATIBLE", errObj["code"])
				return
			}
			assert.True(t, called)
			assert.Equal(t, tt.wantVer, got)
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	_, ok := FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
