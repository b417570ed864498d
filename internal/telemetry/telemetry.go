// Package telemetry exposes the writer's own counters in Prometheus format.
// All methods are safe to call on a nil *Metrics, which disables recording.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "hpc_writer"

// Metrics holds the write path counters.
type Metrics struct {
	registry *prometheus.Registry

	samples       *prometheus.CounterVec
	flushes       *prometheus.CounterVec
	points        prometheus.Counter
	resets        prometheus.Counter
	batchEntries  prometheus.Gauge
	rateBaselines prometheus.Gauge
	flushDuration prometheus.Histogram
}

// New creates the metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples handed to the write engine, by outcome.",
		}, []string{"result"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Flush attempts, by outcome.",
		}, []string{"result"}),
		points: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_written_total",
			Help:      "Points accepted by the sink.",
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_resets_total",
			Help:      "Rate baselines reset after a counter overflow.",
		}),
		batchEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_entries",
			Help:      "Entries currently buffered.",
		}),
		rateBaselines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_baselines",
			Help:      "Counter identities with a stored baseline.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent building and writing a batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.samples, m.flushes, m.points, m.resets,
		m.batchEntries, m.rateBaselines, m.flushDuration,
	)
	return m
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Sample records the outcome of one observed sample.
func (m *Metrics) Sample(result string) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(result).Inc()
}

// Flush records a flush attempt.
func (m *Metrics) Flush(result string, points, resets int, d time.Duration) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(result).Inc()
	m.points.Add(float64(points))
	m.resets.Add(float64(resets))
	m.flushDuration.Observe(d.Seconds())
}

// State records the size of the buffered batch and rate state.
func (m *Metrics) State(entries, baselines int) {
	if m == nil {
		return
	}
	m.batchEntries.Set(float64(entries))
	m.rateBaselines.Set(float64(baselines))
}

// Handler returns the HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, m *Metrics, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving telemetry", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
