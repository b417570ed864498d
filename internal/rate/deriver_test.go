package rate

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rdietric/collectd-plugins/internal/models"
)

var reads = models.Identity{Measurement: "disk", Type: "disk_ops", Instance: "sda", Name: "reads"}

func TestDerive_FirstObservationIsBaseline(t *testing.T) {
	d := New(0, nil)

	if _, ok := d.Derive(reads, 100, 1000); ok {
		t.Fatal("first observation emitted a rate")
	}
	r, ok := d.Derive(reads, 150, 1010)
	if !ok {
		t.Fatal("second observation emitted nothing")
	}
	if r != 5.0 {
		t.Errorf("rate = %v, want 5", r)
	}
}

func TestDerive_Sequence(t *testing.T) {
	d := New(0, nil)
	obs := []struct {
		value  float64
		second int64
	}{
		{10, 100}, {30, 102}, {30, 103}, {130, 113}, {100, 123},
	}
	want := []float64{10, 0, 10, -3}

	d.Derive(reads, obs[0].value, obs[0].second)
	for i, o := range obs[1:] {
		r, ok := d.Derive(reads, o.value, o.second)
		if !ok {
			t.Fatalf("step %d: no rate", i)
		}
		if r != want[i] {
			t.Errorf("step %d: rate = %v, want %v", i, r, want[i])
		}
	}
}

func TestDerive_NonPositiveDeltaReplacesBaseline(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := New(0, zap.New(core))

	d.Derive(reads, 100, 1000)
	if _, ok := d.Derive(reads, 120, 1000); ok {
		t.Error("same-second observation emitted a rate")
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d collisions, want 1", logs.Len())
	}

	// (200 - 120) / 10
	r, ok := d.Derive(reads, 200, 1010)
	if !ok || r != 8 {
		t.Errorf("rate = %v, %v; want 8 from the same-second reading", r, ok)
	}
}

func TestDerive_OutOfOrderReplacesBaseline(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := New(0, zap.New(core))

	d.Derive(reads, 100, 1000)
	if _, ok := d.Derive(reads, 90, 999); ok {
		t.Error("out-of-order observation emitted a rate")
	}
	if logs.Len() != 1 {
		t.Errorf("logged %d collisions, want 1", logs.Len())
	}

	// (110 - 90) / (1009 - 999)
	r, ok := d.Derive(reads, 110, 1009)
	if !ok || r != 2 {
		t.Errorf("rate = %v, %v; want 2", r, ok)
	}
}

func TestDerive_IdentitiesAreIndependent(t *testing.T) {
	d := New(0, nil)
	write := reads
	write.Index = 1

	d.Derive(reads, 0, 10)
	d.Derive(write, 0, 10)
	r1, _ := d.Derive(reads, 10, 20)
	r2, _ := d.Derive(write, 50, 20)
	if r1 != 1 || r2 != 5 {
		t.Errorf("rates = %v, %v; want 1, 5", r1, r2)
	}
	if d.Len() != 2 {
		t.Errorf("Len() = %d, want 2", d.Len())
	}
}

func TestReset_NextObservationIsBaseline(t *testing.T) {
	d := New(0, nil)
	d.Derive(reads, 4000000000, 2990)
	d.Reset(reads)

	if _, ok := d.Derive(reads, 5, 3000); ok {
		t.Error("observation after reset emitted a rate")
	}
	r, ok := d.Derive(reads, 25, 3010)
	if !ok || r != 2 {
		t.Errorf("rate = %v, %v; want 2", r, ok)
	}
}

func TestTx_AbandonedLeavesBaselines(t *testing.T) {
	d := New(0, nil)
	d.Derive(reads, 100, 1000)

	tx := d.Begin()
	r, ok := tx.Derive(reads, 150, 1010)
	if !ok || r != 5 {
		t.Fatalf("staged rate = %v, %v; want 5", r, ok)
	}
	tx.Reset(reads)

	retry := d.Begin()
	r, ok = retry.Derive(reads, 150, 1010)
	if !ok || r != 5 {
		t.Errorf("retried rate = %v, %v; want 5", r, ok)
	}
	retry.Commit()

	if _, ok := d.Derive(reads, 150, 1010); ok {
		t.Error("committed baseline was not applied")
	}
}

func TestTx_StagedValuesChainWithinTx(t *testing.T) {
	d := New(0, nil)
	tx := d.Begin()
	tx.Derive(reads, 0, 10)
	r, ok := tx.Derive(reads, 20, 20)
	if !ok || r != 2 {
		t.Errorf("rate = %v, %v; want 2", r, ok)
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d before commit, want 0", d.Len())
	}
	tx.Commit()
	if d.Len() != 1 {
		t.Errorf("Len() = %d after commit, want 1", d.Len())
	}
}

func TestTx_ResetThenDerive(t *testing.T) {
	d := New(0, nil)
	d.Derive(reads, 100, 1000)

	tx := d.Begin()
	tx.Reset(reads)
	if _, ok := tx.Derive(reads, 5, 1010); ok {
		t.Error("derive after reset in the same tx emitted a rate")
	}
	if tx.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", tx.Resets())
	}
	tx.Commit()

	r, ok := d.Derive(reads, 15, 1020)
	if !ok || r != 1 {
		t.Errorf("rate = %v, %v; want 1 from the post-reset baseline", r, ok)
	}
}

func TestIdleExpiry(t *testing.T) {
	d := New(time.Minute, nil)
	stale := reads
	stale.Instance = "sdb"

	d.Derive(stale, 1, 1000)
	d.Derive(reads, 1, 1000)
	d.Derive(reads, 2, 1030)
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}
	d.Derive(reads, 3, 1070)
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want the idle baseline evicted", d.Len())
	}
}
