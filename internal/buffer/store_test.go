package buffer

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/rdietric/collectd-plugins/internal/models"
)

type fakeTopology struct {
	cores   map[int]string
	threads int
}

func (f fakeTopology) CoreOf(thread int) (string, bool) {
	c, ok := f.cores[thread]
	return c, ok
}

func (f fakeTopology) ThreadsPerCore() int { return f.threads }

func sample(measurement, instance, name string, sec int64, values ...float64) *models.Sample {
	return &models.Sample{
		Measurement: measurement,
		Instance:    instance,
		Type:        "gauge",
		Name:        name,
		Values:      values,
		Time:        time.Unix(sec, 0),
		Host:        "node1",
	}
}

func TestStore_AppendsInInsertionOrder(t *testing.T) {
	st := New(nil)
	st.Add(sample("disk", "sda", "reads", 1000, 1))
	st.Add(sample("disk", "sdb", "reads", 1000, 2))
	st.Add(sample("disk", "sda", "writes", 1000, 3))
	st.Add(sample("memory", "", "used", 1000, 4))

	if st.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", st.Size())
	}

	var got []string
	for _, b := range st.Buckets() {
		got = append(got, b.Measurement+"/"+b.Instance)
	}
	want := []string{"disk/sda", "disk/sdb", "memory/"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("bucket order mismatch (-want +got):\n%s", diff)
	}

	sda := st.Buckets()[0]
	if sda.Samples[0].Name != "reads" || sda.Samples[1].Name != "writes" {
		t.Errorf("samples not in arrival order: %v, %v", sda.Samples[0].Name, sda.Samples[1].Name)
	}
}

func TestStore_DefaultModeNeverMerges(t *testing.T) {
	st := New(nil)
	if !st.Add(sample("cpu", "0", "user", 2000, 10)) {
		t.Fatal("first Add() = false, want true")
	}
	if !st.Add(sample("cpu", "0", "user", 2000, 20)) {
		t.Fatal("second Add() = false, want true without per-core policy")
	}
	if st.Size() != 2 {
		t.Errorf("Size() = %d, want 2", st.Size())
	}
}

func TestStore_PerCoreMergesSameSecond(t *testing.T) {
	pc := NewPerCore(map[string]Mode{"cpu": ModeSum}, fakeTopology{threads: 2})
	st := New(pc)

	a := sample("cpu", "0", "user", 2000, 10, 1)
	a.Time = time.Unix(2000, 100)
	b := sample("cpu", "0", "user", 2000, 20, 2)
	b.Time = time.Unix(2000, 900_000_000)

	if !st.Add(a) {
		t.Fatal("Add(a) = false, want true")
	}
	if st.Add(b) {
		t.Fatal("Add(b) = true, want merge")
	}
	if st.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", st.Size())
	}
	got := st.Buckets()[0].Samples[0].Values
	if diff := cmp.Diff([]float64{30, 3}, got); diff != "" {
		t.Errorf("merged values mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_PerCoreKeepsDistinctMetricsAndSeconds(t *testing.T) {
	pc := NewPerCore(map[string]Mode{"cpu": ModeSum}, fakeTopology{threads: 2})
	st := New(pc)

	st.Add(sample("cpu", "0", "user", 2000, 1))
	st.Add(sample("cpu", "0", "system", 2000, 1))
	st.Add(sample("cpu", "0", "user", 2001, 1))
	st.Add(sample("cpu", "1", "user", 2000, 1))
	// value count mismatch is appended rather than merged
	st.Add(sample("cpu", "0", "user", 2000, 1, 2))

	if st.Size() != 5 {
		t.Errorf("Size() = %d, want 5", st.Size())
	}
}

func TestStore_PerCoreIsCommutative(t *testing.T) {
	pc := NewPerCore(map[string]Mode{"cpu": ModeSum}, fakeTopology{threads: 2})

	sum := func(order ...float64) []float64 {
		st := New(pc)
		for _, v := range order {
			st.Add(sample("cpu", "0", "user", 2000, v))
		}
		return st.Buckets()[0].Samples[0].Values
	}

	if diff := cmp.Diff(sum(0.1, 0.2, 0.3), sum(0.3, 0.1, 0.2), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("order changed the sum (-want +got):\n%s", diff)
	}
}

func TestStore_Clear(t *testing.T) {
	st := New(nil)
	st.Add(sample("disk", "sda", "reads", 1000, 1))
	st.Clear()

	if st.Size() != 0 {
		t.Errorf("Size() = %d after Clear, want 0", st.Size())
	}
	if len(st.Buckets()) != 0 {
		t.Errorf("Buckets() = %d after Clear, want 0", len(st.Buckets()))
	}
}
