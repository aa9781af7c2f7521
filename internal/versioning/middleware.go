package versioning

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type contextKey string

const VersionContextKey contextKey = "api_version"

const (
	// AcceptVersionHeader is sent by the popup backend.
	AcceptVersionHeader = "Accept-Version"
	// VersionQueryParam is used by the page shim, which cannot set headers
	// on a WebSocket handshake.
	VersionQueryParam = "v"

	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
)

// VersionMiddleware rejects clients whose protocol version this build cannot
// serve.
type VersionMiddleware struct {
	logger *logrus.Logger
}

func NewVersionMiddleware(logger *logrus.Logger) *VersionMiddleware {
	return &VersionMiddleware{logger: logger}
}

// VersionHandler is the middleware function
func (vm *VersionMiddleware) VersionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
		w.Header().Set(SupportedVersionsHeader, GetVersionRange())

		requested, ok := vm.requestedVersion(r)
		if !ok {
			vm.reject(w, r, http.StatusBadRequest, "unparseable version", requested)
			return
		}
		if requested.Compare(MinimumSupportedVersion) < 0 {
			vm.reject(w, r, http.StatusUpgradeRequired, "version no longer supported", requested)
			return
		}
		if requested.Major > CurrentVersion.Major {
			vm.reject(w, r, http.StatusNotImplemented, "version not yet available", requested)
			return
		}

		ctx := context.WithValue(r.Context(), VersionContextKey, requested)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestedVersion returns CurrentVersion when the client names none.
func (vm *VersionMiddleware) requestedVersion(r *http.Request) (APIVersion, bool) {
	raw := r.Header.Get(AcceptVersionHeader)
	if raw == "" {
		raw = r.URL.Query().Get(VersionQueryParam)
	}
	if raw == "" {
		return CurrentVersion, true
	}
	v, err := ParseVersion(raw)
	if err != nil {
		vm.logger.WithField("version_string", raw).Warn("Invalid requested API version")
		return APIVersion{}, false
	}
	return v, true
}

func (vm *VersionMiddleware) reject(w http.ResponseWriter, r *http.Request, status int, reason string, requested APIVersion) {
	vm.logger.WithFields(logrus.Fields{
		"requested_version": requested.String(),
		"current_version":   CurrentVersion.String(),
		"path":              r.URL.Path,
		"reason":            reason,
	}).Warn("Incompatible API version requested")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    "VERSION_INCOMPATIBLE",
			"message": reason,
		},
		"supported_versions": GetVersionRange(),
	})
}

// FromContext returns the version negotiated for the request.
func FromContext(ctx context.Context) (APIVersion, bool) {
	v, ok := ctx.Value(VersionContextKey).(APIVersion)
	return v, ok
}
