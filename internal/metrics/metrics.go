package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the aggregate counters of the reasoning core. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Queries          *prometheus.CounterVec
	QueryLatency     prometheus.Histogram
	Steps            *prometheus.CounterVec
	Retrievals       *prometheus.CounterVec
	Verifications    *prometheus.CounterVec
	Responses        *prometheus.CounterVec
	MemoryEvictions  *prometheus.CounterVec
	MemoryHelperErrs *prometheus.CounterVec
}

// New registers the counters on reg. Pass prometheus.NewRegistry() in tests
// to avoid collisions on the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capassist_queries_total",
			Help: "Reasoning engine executions by outcome",
		}, []string{"outcome"}),

		QueryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "capassist_query_duration_seconds",
			Help:    "End-to-end reasoning latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		Steps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capassist_steps_total",
			Help: "Executed plan steps by type and terminal status",
		}, []string{"type", "status"}),

		Retrievals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capassist_retrievals_total",
			Help: "Knowledge retrievals by strategy",
		}, []string{"strategy", "degraded"}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capassist_verifications_total",
			Help: "Fact verifications by verdict",
		}, []string{"verified"}),

		Responses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capassist_responses_total",
			Help: "Generated responses by routing path",
		}, []string{"path"}),

		MemoryEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capassist_memory_evictions_total",
			Help: "Working memory entries removed by reason",
		}, []string{"reason"}),

		MemoryHelperErrs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "capassist_memory_helper_errors_total",
			Help: "Swallowed working memory helper failures by operation",
		}, []string{"op"}),
	}
}

func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(outcome).Inc()
	m.QueryLatency.Observe(d.Seconds())
}

func (m *Metrics) ObserveStep(stepType, status string) {
	if m == nil {
		return
	}
	m.Steps.WithLabelValues(stepType, status).Inc()
}

func (m *Metrics) ObserveRetrieval(strategy string, degraded bool) {
	if m == nil {
		return
	}
	m.Retrievals.WithLabelValues(strategy, strconv.FormatBool(degraded)).Inc()
}

func (m *Metrics) ObserveVerification(verified bool) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(strconv.FormatBool(verified)).Inc()
}

func (m *Metrics) ObserveResponse(path string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(path).Inc()
}

func (m *Metrics) ObserveEviction(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MemoryEvictions.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ObserveHelperError(op string) {
	if m == nil {
		return
	}
	m.MemoryHelperErrs.WithLabelValues(op).Inc()
}
