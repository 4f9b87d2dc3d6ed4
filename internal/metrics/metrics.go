package metrics

import (
	"strconv"
	"time"

	"github.com/alecgard/tokentrack/internal/inference"
	"github.com/alecgard/tokentrack/internal/metering"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metric collectors for the tokentrack server.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Prompt processing.
	PromptsTotal      *prometheus.CounterVec
	TokensTotal       *prometheus.CounterVec
	CostTotal         *prometheus.CounterVec
	InferenceDuration *prometheus.HistogramVec
	InferenceErrors   *prometheus.CounterVec

	// Storage.
	RecordsStoredTotal *prometheus.CounterVec
	ExportsTotal       prometheus.Counter

	// Auth metrics.
	AuthFailuresTotal  *prometheus.CounterVec
	AuthSuccessesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokentrack_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		HTTPResponseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokentrack_http_response_size_bytes",
			Help:    "HTTP response size in bytes.",
			Buckets: prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"method", "path_pattern"}),

		PromptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_prompts_total",
			Help: "Total number of processed prompts.",
		}, []string{"model", "status"}),

		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_tokens_total",
			Help: "Estimated tokens consumed by processed prompts.",
		}, []string{"model", "kind"}),

		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_estimated_cost_usd_total",
			Help: "Estimated cost of processed prompts in USD.",
		}, []string{"model"}),

		InferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokentrack_inference_duration_seconds",
			Help:    "Model invocation duration in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"strategy"}),

		InferenceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_inference_errors_total",
			Help: "Total number of failed model invocations by error kind.",
		}, []string{"strategy", "kind"}),

		RecordsStoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_records_stored_total",
			Help: "Total number of usage record writes by result.",
		}, []string{"result"}),

		ExportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tokentrack_exports_total",
			Help: "Total number of CSV exports served.",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_auth_failures_total",
			Help: "Total number of authentication failures.",
		}, []string{"auth_type"}),

		AuthSuccessesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tokentrack_auth_successes_total",
			Help: "Total number of successful authentications.",
		}, []string{"auth_type"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tokentrack_server_start_time_seconds",
			Help: "Unix timestamp when the server started.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.PromptsTotal,
		m.TokensTotal,
		m.CostTotal,
		m.InferenceDuration,
		m.InferenceErrors,
		m.RecordsStoredTotal,
		m.ExportsTotal,
		m.AuthFailuresTotal,
		m.AuthSuccessesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDBPoolCollector registers a custom DB pool stats collector.
func (m *Metrics) RegisterDBPoolCollector(statFunc DBPoolStatFunc) {
	m.registry.MustRegister(NewDBPoolCollector(statFunc))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, pattern string, status int, elapsed time.Duration, bytes int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pattern).Observe(elapsed.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, pattern).Observe(float64(bytes))
}

// ObserveInference implements metering.Observer.
func (m *Metrics) ObserveInference(strategy inference.Strategy, elapsed time.Duration, kind inference.ErrorKind) {
	m.InferenceDuration.WithLabelValues(string(strategy)).Observe(elapsed.Seconds())
	if kind != "" {
		m.InferenceErrors.WithLabelValues(string(strategy), string(kind)).Inc()
	}
}

// ObservePrompt implements metering.Observer.
func (m *Metrics) ObservePrompt(rec *metering.Record) {
	m.PromptsTotal.WithLabelValues(rec.Model, string(rec.Status)).Inc()
	m.TokensTotal.WithLabelValues(rec.Model, "prompt").Add(float64(rec.PromptTokens))
	m.TokensTotal.WithLabelValues(rec.Model, "completion").Add(float64(rec.CompletionTokens))
	cost, _ := rec.EstimatedCost.Float64()
	m.CostTotal.WithLabelValues(rec.Model).Add(cost)
}

// IncRecordStored counts a usage record write; ok is false on failure.
func (m *Metrics) IncRecordStored(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.RecordsStoredTotal.WithLabelValues(result).Inc()
}

// IncExport counts a served CSV export.
func (m *Metrics) IncExport() {
	m.ExportsTotal.Inc()
}

// IncAuthFailure increments the auth failure counter for the given auth type.
func (m *Metrics) IncAuthFailure(authType string) {
	m.AuthFailuresTotal.WithLabelValues(authType).Inc()
}

// IncAuthSuccess increments the auth success counter for the given auth type.
func (m *Metrics) IncAuthSuccess(authType string) {
	m.AuthSuccessesTotal.WithLabelValues(authType).Inc()
}
