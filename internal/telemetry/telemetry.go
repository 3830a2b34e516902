package telemetry

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/delver/config"
)

// Telemetry tracks run progress, provider usage and spend. Counters are
// exported to Prometheus; the cost tracker keeps an in-process summary
// for the end-of-run report.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	cyclesTotal    prometheus.Counter
	queriesTotal   prometheus.Counter
	fetchesTotal   *prometheus.CounterVec
	chunksTotal    *prometheus.CounterVec
	llmRequests    *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	activeTopics   prometheus.Gauge
	compressedSize prometheus.Gauge

	mu          sync.RWMutex
	totalCost   float64
	totalTokens int64
	modelCosts  map[string]float64
}

// New creates a telemetry instance and registers its collectors on the
// default registry.
func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		cyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delver_research_cycles_total",
			Help: "Research cycles executed across all runs.",
		}),
		queriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "delver_search_queries_total",
			Help: "Search queries issued.",
		}),
		fetchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delver_fetches_total",
			Help: "Page fetches by outcome.",
		}, []string{"outcome"}),
		chunksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delver_chunks_total",
			Help: "Scored chunks by repetition class.",
		}, []string{"class"}),
		llmRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delver_llm_requests_total",
			Help: "LLM requests by model and outcome.",
		}, []string{"model", "outcome"}),
		llmTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "delver_llm_tokens_total",
			Help: "LLM tokens by model and direction.",
		}, []string{"model", "direction"}),
		cycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "delver_cycle_duration_seconds",
			Help:    "Wall time per research cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		activeTopics: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "delver_active_topics",
			Help: "Outline topics still accepting evidence.",
		}),
		compressedSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "delver_compressed_corpus_tokens",
			Help: "Token size of the last compressed corpus.",
		}),
		modelCosts: make(map[string]float64),
	}
}

func (t *Telemetry) enabled() bool { return t != nil && t.config.Enabled }

// RecordCycle observes one completed research cycle.
func (t *Telemetry) RecordCycle(duration time.Duration, activeTopics int) {
	if !t.enabled() {
		return
	}
	t.cyclesTotal.Inc()
	t.cycleDuration.Observe(duration.Seconds())
	t.activeTopics.Set(float64(activeTopics))
}

// RecordQuery counts an issued search query.
func (t *Telemetry) RecordQuery() {
	if t.enabled() {
		t.queriesTotal.Inc()
	}
}

// RecordFetch counts one page fetch attempt.
func (t *Telemetry) RecordFetch(success bool) {
	if !t.enabled() {
		return
	}
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	t.fetchesTotal.WithLabelValues(outcome).Inc()
}

// RecordChunk counts one scored chunk by repetition class.
func (t *Telemetry) RecordChunk(class string) {
	if t.enabled() {
		t.chunksTotal.WithLabelValues(class).Inc()
	}
}

// RecordLLM tracks one model call with its token usage and cost.
func (t *Telemetry) RecordLLM(model string, promptTokens, completionTokens int64, cost float64, err error) {
	if !t.enabled() {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.llmRequests.WithLabelValues(model, outcome).Inc()
	t.llmTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	t.llmTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))

	t.mu.Lock()
	t.totalCost += cost
	t.totalTokens += promptTokens + completionTokens
	t.modelCosts[model] += cost
	t.mu.Unlock()
}

// RecordCompression records the size of a compressed corpus.
func (t *Telemetry) RecordCompression(tokens int) {
	if t.enabled() {
		t.compressedSize.Set(float64(tokens))
	}
}

// CostSummary is the in-process spend snapshot.
type CostSummary struct {
	TotalCost   float64
	TotalTokens int64
	ModelCosts  map[string]float64
}

// Costs returns a copy of the current spend totals.
func (t *Telemetry) Costs() CostSummary {
	if t == nil {
		return CostSummary{ModelCosts: map[string]float64{}}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := CostSummary{
		TotalCost:   t.totalCost,
		TotalTokens: t.totalTokens,
		ModelCosts:  make(map[string]float64, len(t.modelCosts)),
	}
	for k, v := range t.modelCosts {
		out.ModelCosts[k] = v
	}
	return out
}

// Handler exposes the Prometheus scrape endpoint.
func (t *Telemetry) Handler() http.Handler { return promhttp.Handler() }

// Shutdown logs the final spend report.
func (t *Telemetry) Shutdown() {
	if !t.enabled() {
		return
	}
	costs := t.Costs()
	t.logger.Printf("final report: cost=$%.4f tokens=%d", costs.TotalCost, costs.TotalTokens)
	for model, cost := range costs.ModelCosts {
		t.logger.Printf("  model %s: $%.4f", model, cost)
	}
}

// CalculateCost prices a call from per-1K token rates.
func CalculateCost(inputTokens, outputTokens int64, costPer1KInput, costPer1KOutput float64) float64 {
	return float64(inputTokens)/1000.0*costPer1KInput + float64(outputTokens)/1000.0*costPer1KOutput
}

// String renders the summary for the CLI epilogue.
func (c CostSummary) String() string {
	return fmt.Sprintf("cost=$%.4f tokens=%d", c.TotalCost, c.TotalTokens)
}
