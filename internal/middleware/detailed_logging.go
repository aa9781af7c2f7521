package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"carelay/internal/service"
	"carelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maskedValue = "***MASKED***"

// DetailedLoggingConfig controls what gets logged
type DetailedLoggingConfig struct {
	LogRequestHeaders bool     `json:"log_request_headers"`
	LogRequestBody    bool     `json:"log_request_body"`
	MaxBodySize       int      `json:"max_body_size"`
	SensitiveHeaders  []string `json:"sensitive_headers"`
	SkipPrefixes      []string `json:"skip_prefixes"`
}

// DefaultDetailedLoggingConfig logs headers and small JSON bodies of API
// calls, never the page socket or scrape endpoints.
func DefaultDetailedLoggingConfig() DetailedLoggingConfig {
	return DetailedLoggingConfig{
		LogRequestHeaders: true,
		LogRequestBody:    true,
		MaxBodySize:       4096,
		SensitiveHeaders:  []string{"authorization", "cookie", "x-api-key"},
		SkipPrefixes:      []string{"/metrics", "/health", "/ws/"},
	}
}

// DetailedLoggingMiddleware logs request headers and bodies at debug level.
// It is installed only in verbose mode, where chat titles may be logged.
func DetailedLoggingMiddleware(logger *logrus.Logger, config DetailedLoggingConfig) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range config.SkipPrefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			fields := logrus.Fields{
				service.LogFieldRequestID: tracing.GetRequestID(r.Context()),
				logFieldMethod:            r.Method,
				"url":                     r.URL.String(),
				"content_length":          r.ContentLength,
			}
			if config.LogRequestHeaders {
				fields["request_headers"] = maskHeaders(r.Header, config.SensitiveHeaders)
			}
			if config.LogRequestBody && isJSON(r) && r.ContentLength > 0 && r.ContentLength <= int64(config.MaxBodySize) {
				body, err := io.ReadAll(r.Body)
				if err == nil {
					r.Body = io.NopCloser(bytes.NewReader(body))
					fields["request_body"] = string(body)
				}
			}

			logger.WithFields(fields).Debug("Detailed request logging")
			next.ServeHTTP(w, r)
		})
	}
}

func maskHeaders(h http.Header, sensitive []string) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name, sensitive) {
			out[name] = maskedValue
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string, sensitive []string) bool {
	for _, s := range sensitive {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func isJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
