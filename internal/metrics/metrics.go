// Package metrics exposes Prometheus collectors for the fetch and digest workers.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"digest_fetcher/internal/domain"
)

const shutdownTimeout = 5 * time.Second

type Metrics struct {
	registry *prometheus.Registry

	cyclesTotal     *prometheus.CounterVec
	sourcesTotal    *prometheus.CounterVec
	articlesTotal   *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	digestRunsTotal *prometheus.CounterVec
}

// New creates collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_fetcher_cycles_total",
				Help: "Total number of fetch cycles, labeled by status.",
			},
			[]string{"status"},
		),
		sourcesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_fetcher_sources_total",
				Help: "Total number of sources processed, labeled by result.",
			},
			[]string{"result"},
		),
		articlesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_fetcher_articles_total",
				Help: "Total number of fetched articles, labeled by outcome.",
			},
			[]string{"outcome"},
		),
		cycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "digest_fetcher_cycle_duration_seconds",
				Help:    "Histogram of fetch cycle durations.",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		digestRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_fetcher_digest_runs_total",
				Help: "Total number of digest scheduler runs, labeled by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveCycle records one finished fetch cycle. stats may be nil when the
// cycle could not start.
func (m *Metrics) ObserveCycle(stats *domain.CycleStats, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.cyclesTotal.WithLabelValues(status).Inc()

	if stats == nil {
		return
	}

	m.sourcesTotal.WithLabelValues("succeeded").Add(float64(stats.SourcesSucceeded))
	m.sourcesTotal.WithLabelValues("failed").Add(float64(stats.SourcesAttempted - stats.SourcesSucceeded))

	m.articlesTotal.WithLabelValues("inserted").Add(float64(stats.Inserted))
	m.articlesTotal.WithLabelValues("duplicate").Add(float64(stats.Duplicate))
	m.articlesTotal.WithLabelValues("filtered_old").Add(float64(stats.FilteredOld))
	m.articlesTotal.WithLabelValues("filtered_keyword").Add(float64(stats.FilteredKeyword))

	m.cycleDuration.Observe(stats.Duration.Seconds())
}

func (m *Metrics) ObserveDigest(outcome domain.DigestOutcome) {
	m.digestRunsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done. An empty addr disables it.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
