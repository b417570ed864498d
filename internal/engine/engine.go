// Package engine implements the write path: samples are aggregated into the
// batch store, and flushed as points to a sink when the batch is full at a
// second boundary or when a flush is requested.
//
// Failed writes keep the batch for the next attempt. While the sink is down
// the batch grows up to the cache size; later samples are dropped.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/buffer"
	"github.com/rdietric/collectd-plugins/internal/models"
	"github.com/rdietric/collectd-plugins/internal/points"
	"github.com/rdietric/collectd-plugins/internal/rate"
	"github.com/rdietric/collectd-plugins/internal/telemetry"
)

// errMalformedSample marks rejected samples in the log: missing identity
// fields or values, or an unknown hardware thread.
var errMalformedSample = errors.New("malformed sample")

// Sink receives points. Write either stores all points or fails.
type Sink interface {
	Write(ctx context.Context, points []models.Point, precision models.Precision) error
}

// Result is the outcome of observing one sample.
type Result int

const (
	// Appended means the sample became a new batch entry.
	Appended Result = iota
	// Merged means the sample was summed into an existing entry.
	Merged
	// Dropped means the batch was at the cache size.
	Dropped
	// Rejected means the sample was malformed.
	Rejected
)

func (r Result) String() string {
	switch r {
	case Appended:
		return "appended"
	case Merged:
		return "merged"
	case Dropped:
		return "dropped"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Options configures the engine.
type Options struct {
	// BatchSize is the number of entries that triggers a write.
	BatchSize int
	// CacheSize caps the buffered entries while writes fail.
	CacheSize int
	// StoreRates turns counter and derive values into rates.
	StoreRates bool
	// PerCore is the per-core aggregation policy, nil to disable.
	PerCore *buffer.PerCore
	// Shapes resolves value labels of multi-value types.
	Shapes models.ShapeLookup
	// RateIdleExpiry evicts rate baselines not seen for this long. Zero
	// keeps them forever.
	RateIdleExpiry time.Duration
}

// Report describes one flush.
type Report struct {
	Entries    int
	Points     int
	Invalid    int
	Suppressed int
	Resets     int
}

// Engine owns the batch store and the rate state. All methods are safe for
// concurrent use; calls are serialised.
type Engine struct {
	mu sync.Mutex

	opts    Options
	store   *buffer.Store
	deriver *rate.Deriver
	builder *points.Builder
	sink    Sink
	metrics *telemetry.Metrics
	logger  *zap.Logger

	// current is the second of the group of samples being received.
	current int64
	started bool
}

// New creates an engine writing to sink. metrics may be nil.
func New(opts Options, sink Sink, metrics *telemetry.Metrics, logger *zap.Logger) (*Engine, error) {
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", opts.BatchSize)
	}
	if opts.CacheSize < opts.BatchSize {
		return nil, fmt.Errorf("cache size %d is smaller than batch size %d", opts.CacheSize, opts.BatchSize)
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		opts:    opts,
		store:   buffer.New(opts.PerCore),
		deriver: rate.New(opts.RateIdleExpiry, logger.Named("rate")),
		builder: points.New(opts.Shapes, opts.PerCore, opts.StoreRates, logger.Named("points")),
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Observe adds one sample to the batch. Samples must arrive in
// non-decreasing time order. When the sample opens a new second and the
// batch has reached the batch size, the batch is written first, so all
// samples of one second are aggregated before they are sent.
func (e *Engine) Observe(ctx context.Context, s models.Sample) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := e.observe(ctx, &s)
	e.metrics.Sample(res.String())
	e.metrics.State(e.store.Size(), e.deriver.Len())
	return res
}

func (e *Engine) observe(ctx context.Context, s *models.Sample) Result {
	if err := s.Validate(); err != nil {
		e.logger.Warn("Rejected sample", zap.Error(fmt.Errorf("%w: %v", errMalformedSample, err)))
		return Rejected
	}

	second := s.Second()
	if !e.started {
		e.current = second
		e.started = true
	}
	if second != e.current {
		e.current = second
		if e.store.Size() >= e.opts.BatchSize {
			// errors are logged by send; the batch stays for the next try
			e.send(ctx)
		}
	}

	if e.store.Size() >= e.opts.CacheSize {
		e.logger.Debug("Cache full, dropping sample",
			zap.String("measurement", s.Measurement),
			zap.String("metric", s.MetricName()),
			zap.Int("cache_size", e.opts.CacheSize))
		return Dropped
	}

	resolved, err := e.opts.PerCore.Resolve(s)
	if err != nil {
		e.logger.Warn("Rejected sample", zap.Error(fmt.Errorf("%w: %v", errMalformedSample, err)))
		return Rejected
	}
	if e.store.Add(resolved) {
		return Appended
	}
	return Merged
}

// MaybeFlush writes the batch if it holds at least the batch size.
func (e *Engine) MaybeFlush(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store.Size() < e.opts.BatchSize {
		return false, nil
	}
	_, err := e.send(ctx)
	return true, err
}

// Flush writes the batch regardless of its size. ctx bounds the sink call.
func (e *Engine) Flush(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.logger.Info("Flush", zap.Int("entries", e.store.Size()))
	return e.send(ctx)
}

// Size returns the number of buffered entries.
func (e *Engine) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Size()
}

// Baselines returns the number of stored rate baselines.
func (e *Engine) Baselines() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deriver.Len()
}

// send builds and writes the batch. Must be called with e.mu held.
func (e *Engine) send(ctx context.Context) (Report, error) {
	entries := e.store.Size()
	if entries == 0 {
		return Report{}, nil
	}

	start := time.Now()
	tx := e.deriver.Begin()
	pts, stats := e.builder.Build(tx, e.store.Buckets())
	report := Report{
		Entries:    entries,
		Points:     len(pts),
		Invalid:    stats.Invalid,
		Suppressed: stats.Suppressed,
		Resets:     stats.Resets,
	}

	// a batch of baselines only
	if len(pts) == 0 {
		tx.Commit()
		e.store.Clear()
		if e.deriver.Len() == 0 {
			e.logger.Info("No metrics to send and no previous values stored",
				zap.Int("entries", entries))
		}
		e.metrics.Flush("empty", 0, report.Resets, time.Since(start))
		e.metrics.State(0, e.deriver.Len())
		return report, nil
	}

	e.logger.Info("Writing points",
		zap.Int("points", len(pts)),
		zap.Int("entries", entries))

	if err := e.sink.Write(ctx, pts, models.PrecisionSeconds); err != nil {
		e.logger.Error("Error sending metrics, keeping batch",
			zap.Int("entries", entries),
			zap.Error(err))
		e.metrics.Flush("error", 0, 0, time.Since(start))
		return report, fmt.Errorf("write %d points: %w", len(pts), err)
	}

	tx.Commit()
	e.store.Clear()
	e.metrics.Flush("ok", len(pts), report.Resets, time.Since(start))
	e.metrics.State(0, e.deriver.Len())
	return report, nil
}
