// Package metrics exposes the pipeline's Prometheus metrics. Every method is
// safe on a nil *Pipeline, which disables metrics.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/WessleyAI/rollwin/pkg/mid"
)

const namespace = "rollwin"

// StageBuckets cover stages from sub-second filters to long embeddings.
var StageBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 900}

// Pipeline holds the run metrics.
type Pipeline struct {
	reg *prometheus.Registry

	windows     *prometheus.CounterVec
	attempts    prometheus.Counter
	retries     *prometheus.CounterVec
	reconnects  prometheus.Counter
	stage       *prometheus.HistogramVec
	algorithm   *prometheus.HistogramVec
	rows        *prometheus.CounterVec
	predictions prometheus.Counter
	variantAUC  *prometheus.GaugeVec
	current     prometheus.Gauge
	requests    *prometheus.CounterVec
	requestDur  *prometheus.HistogramVec
}

// New creates the metrics and registers them on a fresh registry together
// with the Go and process collectors.
func New() (*Pipeline, error) {
	p := &Pipeline{
		reg: prometheus.NewRegistry(),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "windows_total",
			Help: "Windows finished, by outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "window_attempts_total",
			Help: "Window attempts started.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_total",
			Help: "Failed attempts that were retried, by error kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Graph engine reconnects.",
		}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "stage_duration_seconds",
			Help: "Window stage duration.", Buckets: StageBuckets,
		}, []string{"stage"}),
		algorithm: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "algorithm_duration_seconds",
			Help: "Algorithm mutate call duration.", Buckets: StageBuckets,
		}, []string{"property"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rows_written_total",
			Help: "Rows written to output files, by file kind.",
		}, []string{"kind"}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "predicted_edges_total",
			Help: "Predicted relationships written back.",
		}),
		variantAUC: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "linkpred_variant_auc",
			Help: "Held-out AUC of the last window per variant.",
		}, []string{"variant"}),
		current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "window_start_ms",
			Help: "Start of the window being processed, epoch milliseconds.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Requests served by the metrics endpoint, by path and status code.",
		}, []string{"path", "code"}),
		requestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help: "Metrics endpoint request duration.", Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
	}
	for _, c := range []prometheus.Collector{
		p.windows, p.attempts, p.retries, p.reconnects, p.stage, p.algorithm,
		p.rows, p.predictions, p.variantAUC, p.current, p.requests, p.requestDur,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := p.reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Registry returns the underlying registry.
func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

func (p *Pipeline) Window(outcome string) {
	if p == nil {
		return
	}
	p.windows.WithLabelValues(outcome).Inc()
}

func (p *Pipeline) Attempt() {
	if p == nil {
		return
	}
	p.attempts.Inc()
}

func (p *Pipeline) Retry(kind string) {
	if p == nil {
		return
	}
	p.retries.WithLabelValues(kind).Inc()
}

func (p *Pipeline) Reconnect() {
	if p == nil {
		return
	}
	p.reconnects.Inc()
}

func (p *Pipeline) Stage(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stage.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Pipeline) Algorithm(property string, d time.Duration) {
	if p == nil {
		return
	}
	p.algorithm.WithLabelValues(property).Observe(d.Seconds())
}

func (p *Pipeline) Rows(kind string, n int) {
	if p == nil {
		return
	}
	p.rows.WithLabelValues(kind).Add(float64(n))
}

func (p *Pipeline) Predictions(n int64) {
	if p == nil {
		return
	}
	p.predictions.Add(float64(n))
}

func (p *Pipeline) VariantAUC(variant string, auc float64) {
	if p == nil {
		return
	}
	p.variantAUC.WithLabelValues(variant).Set(auc)
}

func (p *Pipeline) Current(startMS int64) {
	if p == nil {
		return
	}
	p.current.Set(float64(startMS))
}

// Request records one request to the metrics endpoint.
func (p *Pipeline) Request(path, code string, d time.Duration) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(path, code).Inc()
	p.requestDur.WithLabelValues(path).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr until ctx is done. Responses carry the run
// name and params hash.
func (p *Pipeline) Serve(ctx context.Context, addr, run, paramsHash string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           p.wrap(mux, run, paramsHash, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (p *Pipeline) wrap(h http.Handler, run, paramsHash string, log *slog.Logger) http.Handler {
	return mid.Chain(h,
		mid.Recover(log),
		mid.Observe(p, log),
		mid.Run(run, paramsHash),
		mid.OTel("rollwin-metrics"),
	)
}
