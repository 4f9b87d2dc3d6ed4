package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the live metrics endpoint.
type Summary struct {
	HTTP    httpSummary   `json:"http"`
	Prompts promptSummary `json:"prompts"`
	Storage storageInfo   `json:"storage"`
	Auth    authInfo      `json:"auth"`
	DB      dbInfo        `json:"db"`
	Server  serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type promptSummary struct {
	Total            float64 `json:"total"`
	Errors           float64 `json:"errors"`
	ErrorRate        float64 `json:"errorRate"`
	PromptTokens     float64 `json:"promptTokens"`
	CompletionTokens float64 `json:"completionTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
	P50Inference     float64 `json:"p50Inference"`
	P95Inference     float64 `json:"p95Inference"`
}

type storageInfo struct {
	RecordsStored float64 `json:"recordsStored"`
	StoreErrors   float64 `json:"storeErrors"`
	Exports       float64 `json:"exports"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
	MaxConns      float64 `json:"maxConns"`
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize(time.Now())
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize(now time.Time) (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	httpReqs := fam["tokentrack_http_requests_total"]
	httpDur := fam["tokentrack_http_request_duration_seconds"]
	prompts := fam["tokentrack_prompts_total"]
	tokens := fam["tokentrack_tokens_total"]
	inference := fam["tokentrack_inference_duration_seconds"]
	start := gaugeValue(fam["tokentrack_server_start_time_seconds"])

	s := &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(httpReqs),
			ErrorRate:     computeErrorRate(httpReqs),
			P50Latency:    histogramPercentile(httpDur, 0.50),
			P95Latency:    histogramPercentile(httpDur, 0.95),
			P99Latency:    histogramPercentile(httpDur, 0.99),
		},
		Prompts: promptSummary{
			Total:            sumCounter(prompts),
			Errors:           sumCounterWithLabel(prompts, "status", "error"),
			PromptTokens:     sumCounterWithLabel(tokens, "kind", "prompt"),
			CompletionTokens: sumCounterWithLabel(tokens, "kind", "completion"),
			EstimatedCost:    sumCounter(fam["tokentrack_estimated_cost_usd_total"]),
			P50Inference:     histogramPercentile(inference, 0.50),
			P95Inference:     histogramPercentile(inference, 0.95),
		},
		Storage: storageInfo{
			RecordsStored: sumCounterWithLabel(fam["tokentrack_records_stored_total"], "result", "ok"),
			StoreErrors:   sumCounterWithLabel(fam["tokentrack_records_stored_total"], "result", "error"),
			Exports:       counterValue(fam["tokentrack_exports_total"]),
		},
		Auth: authInfo{
			Failures:  sumCounter(fam["tokentrack_auth_failures_total"]),
			Successes: sumCounter(fam["tokentrack_auth_successes_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["tokentrack_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["tokentrack_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["tokentrack_db_pool_acquired_conns"]),
			MaxConns:      gaugeValue(fam["tokentrack_db_pool_max_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(now.Unix()) - start,
		},
	}
	if s.Prompts.Total > 0 {
		s.Prompts.ErrorRate = s.Prompts.Errors / s.Prompts.Total
	}
	return s, nil
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetGauge() == nil {
		return 0
	}
	return ms[0].GetGauge().GetValue()
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 || ms[0].GetCounter() == nil {
		return 0
	}
	return ms[0].GetCounter().GetValue()
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// computeErrorRate returns the share of requests with a 4xx or 5xx status.
func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Past the last finite bucket.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
