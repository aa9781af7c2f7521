// Package metrics exposes the relay's Prometheus collectors. All methods are
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carelay"

// Metrics holds every collector the relay records.
type Metrics struct {
	// Detection
	CandidatesTotal        *prometheus.CounterVec
	DuplicatesTotal        prometheus.Counter
	MessagesDiscardedTotal *prometheus.CounterVec

	// Forwarding
	ForwardsTotal   *prometheus.CounterVec
	ForwardDuration prometheus.Histogram
	QueueDepth      prometheus.Gauge
	DrainsTotal     *prometheus.CounterVec

	// Ledger
	LedgerSize        prometheus.Gauge
	LedgerPrunedTotal prometheus.Counter

	// Scanner
	ScanCyclesTotal *prometheus.CounterVec
	ScanDuration    prometheus.Histogram

	// Page bridge
	PageConnected    prometheus.Gauge
	PageCallsTotal   *prometheus.CounterVec
	PageCallDuration *prometheus.HistogramVec

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CandidatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Contract addresses extracted from chat messages",
		}, []string{"chain", "source"}),
		DuplicatesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Candidates rejected because the ledger already held them",
		}),
		MessagesDiscardedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_discarded_total",
			Help:      "Messages skipped before extraction",
		}, []string{"reason"}),

		ForwardsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Forward attempts by outcome",
		}, []string{"chain", "outcome"}),
		ForwardDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forward_duration_seconds",
			Help:      "Time to run the forward protocol for one request",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Requests waiting in the forward queue",
		}),
		DrainsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_drains_total",
			Help:      "Queue drain invocations by result",
		}, []string{"result"}),

		LedgerSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_entries",
			Help:      "Addresses held in the processed ledger",
		}),
		LedgerPrunedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_pruned_total",
			Help:      "Ledger entries removed by age",
		}),

		ScanCyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cycles_total",
			Help:      "Chat scanner cycles by result",
		}, []string{"result"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_cycle_duration_seconds",
			Help:      "Duration of one scan cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		PageConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "page_connected",
			Help:      "1 while a browser tab is attached to the page bridge",
		}),
		PageCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_calls_total",
			Help:      "Page adapter calls by operation and status",
		}, []string{"op", "status"}),
		PageCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "page_call_duration_seconds",
			Help:      "Page adapter call latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) RecordCandidate(chain, source string) {
	if m == nil {
		return
	}
	m.CandidatesTotal.WithLabelValues(chain, source).Inc()
}

func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.DuplicatesTotal.Inc()
}

func (m *Metrics) RecordDiscarded(reason string) {
	if m == nil {
		return
	}
	m.MessagesDiscardedTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordForward(chain, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ForwardsTotal.WithLabelValues(chain, outcome).Inc()
	m.ForwardDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) RecordDrain(result string) {
	if m == nil {
		return
	}
	m.DrainsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetLedgerSize(n int) {
	if m == nil {
		return
	}
	m.LedgerSize.Set(float64(n))
}

func (m *Metrics) RecordPruned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LedgerPrunedTotal.Add(float64(n))
}

func (m *Metrics) RecordScanCycle(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ScanCyclesTotal.WithLabelValues(result).Inc()
	m.ScanDuration.Observe(duration.Seconds())
}

func (m *Metrics) SetPageConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.PageConnected.Set(1)
	} else {
		m.PageConnected.Set(0)
	}
}

func (m *Metrics) RecordPageCall(op string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PageCallsTotal.WithLabelValues(op, status).Inc()
	m.PageCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
