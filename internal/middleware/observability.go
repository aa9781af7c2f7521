package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"carelay/internal/metrics"
	"carelay/internal/service"
	"carelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// Log field names used only by the HTTP layer
const (
	logFieldMethod     = "method"
	logFieldPath       = "path"
	logFieldRoute      = "route"
	logFieldStatusCode = "status_code"
	logFieldRemoteIP   = "remote_ip"
	logFieldUserAgent  = "user_agent"
	logFieldSize       = "response_size"
	logFieldTraceID    = "trace_id"
)

// ObservabilityMiddleware assigns a request id, opens a span, logs the
// request and records it in m. m may be nil.
func ObservabilityMiddleware(logger *logrus.Logger, m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeTemplate(r)

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = tracing.GenerateRequestID()
			}

			ctx, span := tracing.StartSpan(r.Context(), "http "+r.Method+" "+route,
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", r.URL.Path),
				attribute.String("client.address", ClientIP(r)),
				attribute.String("user_agent.original", r.Header.Get("User-Agent")),
			)
			defer span.End()

			ctx = tracing.WithRequestID(ctx, requestID)
			ctx = tracing.WithStartTime(ctx, start)
			r = r.WithContext(ctx)
			w.Header().Set(RequestIDHeader, requestID)

			fields := logrus.Fields{
				service.LogFieldRequestID: requestID,
				logFieldMethod:            r.Method,
				logFieldPath:              r.URL.Path,
				logFieldRemoteIP:          ClientIP(r),
			}
			if traceID := tracing.GetOtelTraceID(ctx); traceID != "" {
				fields[logFieldTraceID] = traceID
			}
			logger.WithFields(fields).WithField(logFieldUserAgent, r.Header.Get("User-Agent")).Debug("HTTP request started")

			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			status := strconv.Itoa(wrapper.statusCode)
			m.RecordHTTPRequest(r.Method, route, status, duration)
			finishSpan(span, wrapper)

			level := logrus.InfoLevel
			switch {
			case wrapper.statusCode >= 500:
				level = logrus.ErrorLevel
			case wrapper.statusCode >= 400:
				level = logrus.WarnLevel
			case route == "/health" || route == "/metrics":
				level = logrus.DebugLevel
			}
			logger.WithFields(fields).WithFields(logrus.Fields{
				logFieldRoute:            route,
				logFieldStatusCode:       wrapper.statusCode,
				logFieldSize:             wrapper.responseSize,
				service.LogFieldDuration: duration.Milliseconds(),
			}).Log(level, "HTTP request completed")
		})
	}
}

func finishSpan(span oteltrace.Span, rw *responseWrapper) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", rw.statusCode),
		attribute.Int64("http.response.body.size", rw.responseSize),
	)
	if rw.statusCode >= 500 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", rw.statusCode))
	}
}

// routeTemplate keeps metric labels bounded by using the matched mux route.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// responseWrapper captures the status code and body size
type responseWrapper struct {
	http.ResponseWriter
	statusCode   int
	responseSize int64
	wroteHeader  bool
}

func (rw *responseWrapper) WriteHeader(statusCode int) {
	if !rw.wroteHeader {
		rw.statusCode = statusCode
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWrapper) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(data)
	rw.responseSize += int64(n)
	return n, err
}

// Hijack lets the page bridge upgrade to a WebSocket through the middleware.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.wroteHeader = true
	return hj.Hijack()
}

func (rw *responseWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
