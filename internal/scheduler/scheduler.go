// Package scheduler implements a tick-based periodic collection scheduler.
// It runs the collectors at a configurable interval and feeds their samples,
// oldest first, into the write engine. Sending is left to the engine, which
// flushes on batch size; the scheduler only forces periodic and shutdown
// flushes.
package scheduler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/engine"
	"github.com/rdietric/collectd-plugins/internal/models"
)

// collectTimeout bounds one round of collection.
const collectTimeout = 10 * time.Second

// Source produces the samples of one collection round.
type Source interface {
	CollectAll(ctx context.Context) []models.Sample
}

// Writer is the part of the engine the scheduler drives.
type Writer interface {
	Observe(ctx context.Context, s models.Sample) engine.Result
	MaybeFlush(ctx context.Context) (bool, error)
	Flush(ctx context.Context) (engine.Report, error)
}

// Options controls the scheduler timing.
type Options struct {
	Interval time.Duration
	// FlushInterval forces a send regardless of batch size. Zero disables it.
	FlushInterval time.Duration
	// ShutdownTimeout bounds the final flush after the context is cancelled.
	ShutdownTimeout time.Duration
}

// Scheduler manages periodic metric collection.
type Scheduler struct {
	source Source
	writer Writer
	opts   Options
	logger *zap.Logger
}

// New creates a new Scheduler.
func New(source Source, writer Writer, opts Options, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		source: source,
		writer: writer,
		opts:   opts,
		logger: logger,
	}
}

// Start begins the collection and flush loops. It blocks until the context
// is cancelled. On shutdown, it flushes whatever the engine still holds.
func (s *Scheduler) Start(ctx context.Context) {
	collectTicker := time.NewTicker(s.opts.Interval)
	defer collectTicker.Stop()

	var flushC <-chan time.Time
	if s.opts.FlushInterval > 0 {
		flushTicker := time.NewTicker(s.opts.FlushInterval)
		defer flushTicker.Stop()
		flushC = flushTicker.C
	}

	// Do an initial collection immediately
	s.collect(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case <-collectTicker.C:
			s.collect(ctx)
		case <-flushC:
			s.flush(ctx)
		}
	}
}

// collect runs all collectors with a timeout and hands the samples to the
// writer in timestamp order.
func (s *Scheduler) collect(ctx context.Context) {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	samples := s.source.CollectAll(collectCtx)
	cancel()

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Time.Before(samples[j].Time)
	})

	counts := make(map[engine.Result]int)
	for _, sample := range samples {
		counts[s.writer.Observe(ctx, sample)]++
	}
	// Errors are logged by the engine; the batch stays cached for the next try.
	_, _ = s.writer.MaybeFlush(ctx)

	s.logger.Debug("Collected metrics",
		zap.Int("samples", len(samples)),
		zap.Int("appended", counts[engine.Appended]),
		zap.Int("merged", counts[engine.Merged]),
		zap.Int("dropped", counts[engine.Dropped]),
		zap.Int("rejected", counts[engine.Rejected]))
}

func (s *Scheduler) flush(ctx context.Context) {
	if _, err := s.writer.Flush(ctx); err != nil {
		s.logger.Debug("Periodic flush failed, keeping batch", zap.Error(err))
	}
}

func (s *Scheduler) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	report, err := s.writer.Flush(ctx)
	if err != nil {
		s.logger.Error("Final flush failed, cached metrics are lost", zap.Error(err))
		return
	}
	s.logger.Info("Final flush complete",
		zap.Int("entries", report.Entries),
		zap.Int("points", report.Points))
}
