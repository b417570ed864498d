package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap/zaptest"

	"github.com/rdietric/collectd-plugins/internal/models"
)

var testTime = time.Unix(1700000000, 0)

func TestCPUSamples(t *testing.T) {
	c := NewCPUCollector("node1")
	got := c.samples([]cpu.TimesStat{
		{CPU: "cpu0", User: 10, Idle: 90},
		{CPU: "cpu1", User: 5, Idle: 95},
	}, testTime)

	if len(got) != 16 {
		t.Fatalf("got %d samples, want 16", len(got))
	}
	first := got[0]
	want := models.Sample{
		Measurement: "cpu", Instance: "0", Type: "cpu", Name: "user",
		Kind: models.Derive, Values: []float64{10}, Time: testTime, Host: "node1",
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first sample mismatch (-want +got):\n%s", diff)
	}
	if got[8].Instance != "1" {
		t.Errorf("second thread instance = %q, want 1", got[8].Instance)
	}
}

func TestDiskSamples(t *testing.T) {
	c := NewDiskCollector("node1", zaptest.NewLogger(t))
	got := c.samples(map[string]disk.IOCountersStat{
		"sdb":   {ReadBytes: 1, WriteBytes: 2},
		"sda":   {ReadBytes: 3, WriteBytes: 4, ReadCount: 5, WriteCount: 6},
		"loop0": {ReadBytes: 7},
	}, testTime)

	if len(got) != 6 {
		t.Fatalf("got %d samples, want 6", len(got))
	}
	if got[0].Instance != "sda" || got[0].Type != "disk_octets" {
		t.Errorf("devices not sorted: first = %s/%s", got[0].Instance, got[0].Type)
	}
	if diff := cmp.Diff([]float64{5, 6}, got[1].Values); diff != "" {
		t.Errorf("disk_ops values (-want +got):\n%s", diff)
	}
	for _, s := range got {
		if s.Instance == "loop0" {
			t.Error("loop device was not skipped")
		}
		if s.Kind != models.Derive {
			t.Errorf("%s kind = %v, want derive", s.Type, s.Kind)
		}
	}
}

func TestDFFilters(t *testing.T) {
	c := NewDFCollector("node1", zaptest.NewLogger(t))
	tests := []struct {
		part disk.PartitionStat
		want bool
	}{
		{disk.PartitionStat{Mountpoint: "/", Fstype: "ext4"}, true},
		{disk.PartitionStat{Mountpoint: "/dev/shm", Fstype: "tmpfs"}, false},
		{disk.PartitionStat{Mountpoint: "/scratch", Fstype: "lustre"}, false},
		{disk.PartitionStat{Mountpoint: "/System/Volumes/Data", Fstype: "apfs"}, false},
	}
	for _, tt := range tests {
		if got := c.include(tt.part); got != tt.want {
			t.Errorf("include(%s %s) = %v, want %v", tt.part.Mountpoint, tt.part.Fstype, got, tt.want)
		}
	}
}

func TestMountInstance(t *testing.T) {
	tests := map[string]string{
		"/":          "root",
		"/home":      "home",
		"/var/lib/x": "var-lib-x",
	}
	for mount, want := range tests {
		if got := mountInstance(mount); got != want {
			t.Errorf("mountInstance(%q) = %q, want %q", mount, got, want)
		}
	}
}

func TestInterfaceSamples(t *testing.T) {
	c := NewInterfaceCollector("node1")
	got := c.samples([]net.IOCountersStat{
		{Name: "lo", BytesRecv: 1},
		{Name: "eth0", BytesRecv: 100, BytesSent: models.MaxCounter32, PacketsRecv: 3, PacketsSent: 4},
	}, testTime)

	if len(got) != 4 {
		t.Fatalf("got %d samples, want 4", len(got))
	}
	octets := got[0]
	if octets.Type != "if_octets" || octets.Instance != "eth0" || octets.Kind != models.Counter {
		t.Errorf("unexpected first sample %+v", octets)
	}
	if !octets.Overflow {
		t.Error("saturated if_octets not flagged")
	}
	if got[1].Overflow {
		t.Error("if_packets flagged without a saturated reading")
	}
}

func TestSensorsSamples(t *testing.T) {
	c := NewSensorsCollector("node1", nil)
	got := c.samples([]host.TemperatureStat{
		{SensorKey: "coretemp_core_1_input", Temperature: 55},
		{SensorKey: "coretemp_core_0_input", Temperature: 50},
		{SensorKey: "bogus", Temperature: 400},
		{SensorKey: "unplugged", Temperature: 0},
	}, testTime)

	if len(got) != 2 {
		t.Fatalf("got %d samples, want 2", len(got))
	}
	if got[0].Instance != "coretemp_core_0" || got[0].Values[0] != 50 {
		t.Errorf("first sensor = %s %v", got[0].Instance, got[0].Values)
	}
}

type fakeCollector struct {
	name      string
	samples   []models.Sample
	err       error
	available bool
}

func (f *fakeCollector) Name() string      { return f.name }
func (f *fakeCollector) IsAvailable() bool { return f.available }
func (f *fakeCollector) Collect(context.Context) ([]models.Sample, error) {
	return f.samples, f.err
}

func TestRegistryCollectAll(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	r.Register(&fakeCollector{name: "a", available: true, samples: []models.Sample{{Measurement: "a"}}})
	r.Register(&fakeCollector{name: "broken", available: true, err: errors.New("boom")})
	r.Register(&fakeCollector{name: "missing", available: false, samples: []models.Sample{{Measurement: "x"}}})
	r.Register(&fakeCollector{name: "b", available: true, samples: []models.Sample{{Measurement: "b"}, {Measurement: "b"}}})

	if n := len(r.Collectors()); n != 3 {
		t.Errorf("registered %d collectors, want 3", n)
	}

	got := r.CollectAll(context.Background())
	var names []string
	for _, s := range got {
		names = append(names, s.Measurement)
	}
	if diff := cmp.Diff([]string{"a", "b", "b"}, names); diff != "" {
		t.Errorf("CollectAll order (-want +got):\n%s", diff)
	}
}

func TestByName(t *testing.T) {
	logger := zaptest.NewLogger(t)
	for _, name := range []string{"cpu", "memory", "disk", "df", "interface", "load", "uptime", "sensors"} {
		c, err := ByName(name, "node1", logger)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("ByName(%q).Name() = %q", name, c.Name())
		}
	}
	if _, err := ByName("lustre", "node1", logger); err == nil {
		t.Error("expected error for unknown collector")
	}
}
