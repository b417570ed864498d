// Package rate turns counter and derive readings into per-second rates.
//
// The deriver keeps the last raw observation of every counter identity. The
// first observation of an identity only establishes the baseline. Later
// observations emit (value - prev) / (second - prevSecond) when time moved
// forward, and nothing otherwise. Either way the observation replaces the
// baseline.
//
// Derivations are staged in a Tx and only become baselines on Commit, so a
// batch whose write failed can be rebuilt with the same result.
package rate

import (
	"time"

	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/models"
)

type observation struct {
	value  float64
	second int64
}

// Deriver holds the rate baselines. It is not safe for concurrent use.
type Deriver struct {
	baselines  map[models.Identity]observation
	idleExpiry int64
	newest     int64
	logger     *zap.Logger
}

// New creates a deriver. Baselines not updated for idleExpiry (measured in
// sample time) are evicted on commit; zero keeps them forever.
func New(idleExpiry time.Duration, logger *zap.Logger) *Deriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deriver{
		baselines:  make(map[models.Identity]observation),
		idleExpiry: int64(idleExpiry / time.Second),
		logger:     logger,
	}
}

// Len returns the number of stored baselines.
func (d *Deriver) Len() int {
	return len(d.baselines)
}

// Derive computes and immediately commits a single rate.
func (d *Deriver) Derive(id models.Identity, value float64, second int64) (float64, bool) {
	tx := d.Begin()
	r, ok := tx.Derive(id, value, second)
	tx.Commit()
	return r, ok
}

// Reset drops the baseline of id immediately.
func (d *Deriver) Reset(id models.Identity) {
	tx := d.Begin()
	tx.Reset(id)
	tx.Commit()
}

// Begin starts a staged set of derivations.
func (d *Deriver) Begin() *Tx {
	return &Tx{
		d:      d,
		staged: make(map[models.Identity]observation),
		resets: make(map[models.Identity]struct{}),
	}
}

// Tx stages baseline updates until Commit. Abandoning a Tx leaves the
// deriver untouched.
type Tx struct {
	d      *Deriver
	staged map[models.Identity]observation
	resets map[models.Identity]struct{}
	newest int64
}

func (tx *Tx) lookup(id models.Identity) (observation, bool) {
	if o, ok := tx.staged[id]; ok {
		return o, true
	}
	if _, ok := tx.resets[id]; ok {
		return observation{}, false
	}
	o, ok := tx.d.baselines[id]
	return o, ok
}

// Derive returns the rate of id at second, or false when no rate can be
// emitted: on the first observation, or when second does not advance past
// the baseline. Every observation becomes the new baseline.
func (tx *Tx) Derive(id models.Identity, value float64, second int64) (float64, bool) {
	if second > tx.newest {
		tx.newest = second
	}

	prev, ok := tx.lookup(id)
	if !ok {
		tx.staged[id] = observation{value: value, second: second}
		return 0, false
	}

	dt := second - prev.second
	if dt <= 0 {
		tx.d.logger.Info("Found a previous value for this metric with the same timestamp",
			zap.Stringer("metric", id),
			zap.Int64("previous", prev.second),
			zap.Int64("current", second))
		tx.staged[id] = observation{value: value, second: second}
		return 0, false
	}

	tx.staged[id] = observation{value: value, second: second}
	return (value - prev.value) / float64(dt), true
}

// Reset drops the baseline of id. The next observation starts afresh.
func (tx *Tx) Reset(id models.Identity) {
	delete(tx.staged, id)
	tx.resets[id] = struct{}{}
}

// Resets returns the number of identities reset in this transaction.
func (tx *Tx) Resets() int {
	return len(tx.resets)
}

// Commit applies the staged resets and baselines to the deriver.
func (tx *Tx) Commit() {
	d := tx.d
	for id := range tx.resets {
		delete(d.baselines, id)
	}
	for id, o := range tx.staged {
		d.baselines[id] = o
	}
	if tx.newest > d.newest {
		d.newest = tx.newest
	}
	d.expire()

	tx.staged = make(map[models.Identity]observation)
	tx.resets = make(map[models.Identity]struct{})
}

func (d *Deriver) expire() {
	if d.idleExpiry <= 0 {
		return
	}
	cutoff := d.newest - d.idleExpiry
	evicted := 0
	for id, o := range d.baselines {
		if o.second < cutoff {
			delete(d.baselines, id)
			evicted++
		}
	}
	if evicted > 0 {
		d.logger.Debug("Evicted idle rate baselines", zap.Int("count", evicted))
	}
}
