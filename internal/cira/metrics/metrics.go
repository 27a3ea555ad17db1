// Package metrics exposes the operational counters/gauges/histograms
// spec.md §2.6 names as ambient instrumentation: pages crawled, rate-gate
// wait time, batch queue depth, LLM token usage. Generalizes the
// teacher's internal/observability/metrics.go (atomic counters + a
// hand-written text-exposition ServeHTTP) onto
// github.com/prometheus/client_golang collectors registered against a
// private registry, matching the MetricsConfig.{Enabled,Port,Path}
// struct the teacher already carries.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every collector the processing core increments. A
// process constructs one and threads it into crawler.Deps/pipeline.Deps/
// scheduler.Scheduler alongside the other process-wide singletons.
type Registry struct {
	reg *prometheus.Registry

	PagesCrawled    *prometheus.CounterVec
	FetchErrors     *prometheus.CounterVec
	RateGateWait    prometheus.Histogram
	BatchQueueDepth *prometheus.GaugeVec
	LLMTokensUsed   *prometheus.CounterVec
	LLMCallDuration prometheus.Histogram
	CompaniesActive prometheus.Gauge

	logger *slog.Logger
}

// New builds a Registry with every collector registered.
func New(logger *slog.Logger) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		PagesCrawled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cira",
			Name:      "pages_crawled_total",
			Help:      "Pages successfully crawled, by company.",
		}, []string{"companyId"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cira",
			Name:      "fetch_errors_total",
			Help:      "Fetch failures, by kind (static/rendered/pdf).",
		}, []string{"kind"}),
		RateGateWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cira",
			Name:      "rate_gate_wait_seconds",
			Help:      "Time a crawl step spent waiting on the per-domain rate gate.",
			Buckets:   prometheus.DefBuckets,
		}),
		BatchQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cira",
			Name:      "batch_queue_depth",
			Help:      "Companies still pending within a batch.",
		}, []string{"batchId"}),
		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cira",
			Name:      "llm_tokens_total",
			Help:      "LLM tokens consumed, by direction (input/output).",
		}, []string{"direction"}),
		LLMCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cira",
			Name:      "llm_call_duration_seconds",
			Help:      "LLM completion call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		CompaniesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cira",
			Name:      "companies_active",
			Help:      "Companies currently dispatched by the scheduler.",
		}),
		logger: logger.With("component", "metrics"),
	}

	reg.MustRegister(
		r.PagesCrawled, r.FetchErrors, r.RateGateWait,
		r.BatchQueueDepth, r.LLMTokensUsed, r.LLMCallDuration, r.CompaniesActive,
	)
	return r
}

// StartServer exposes the registry on an HTTP mux at path, plus a /health
// endpoint, mirroring the teacher's StartServer. Runs in a background
// goroutine; call errors are logged rather than returned since the
// process should not fail to start crawling over a metrics bind failure.
func (r *Registry) StartServer(port int, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	addr := fmt.Sprintf(":%d", port)
	r.logger.Info("metrics server starting", "addr", addr, "path", path)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			r.logger.Error("metrics server error", "err", err)
		}
	}()
}
