package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"
	"strings"

	apperrors "carelay/internal/errors"
	"carelay/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const tokenQueryParam = "token"

// requireToken checks the bearer token on every request. The page shim
// passes it as ?token= since a browser cannot set WebSocket headers. An
// empty token disables the check.
func requireToken(token string, logger *logrus.Logger) mux.MiddlewareFunc {
	want := sha256.Sum256([]byte(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := sha256.Sum256([]byte(presentedToken(r)))
			if !hmac.Equal(got[:], want[:]) {
				logger.WithFields(logrus.Fields{
					"path":      r.URL.Path,
					"remote_ip": middleware.ClientIP(r),
				}).Warn("Rejected request with missing or invalid API token")
				writeError(w, r, apperrors.New(apperrors.ErrCodeUnauthorized, "missing or invalid API token"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return r.URL.Query().Get(tokenQueryParam)
}
