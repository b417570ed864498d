package collector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// pseudoFSTypes are filesystems the df collector skips: virtual ones and
// network mounts that are not local storage.
var pseudoFSTypes = map[string]bool{
	// Virtual / system filesystems
	"devfs":         true,
	"autofs":        true,
	"nullfs":        true,
	"tmpfs":         true,
	"sysfs":         true,
	"proc":          true,
	"procfs":        true,
	"devtmpfs":      true,
	"cgroup":        true,
	"cgroup2":       true,
	"overlay":       true,
	"squashfs":      true,
	"fuse.snapfuse": true,
	"nsfs":          true,
	"pstore":        true,
	"debugfs":       true,
	"tracefs":       true,
	"securityfs":    true,
	"configfs":      true,
	"fusectl":       true,
	"mqueue":        true,
	"hugetlbfs":     true,
	"binfmt_misc":   true,
	"efivarfs":      true,
	"bpf":           true,
	"ramfs":         true,

	// Network / remote filesystems
	"nfs":            true,
	"nfs4":           true,
	"cifs":           true,
	"smbfs":          true,
	"fuse.sshfs":     true,
	"fuse.rclone":    true,
	"9p":             true,
	"afs":            true,
	"ncpfs":          true,
	"glusterfs":      true,
	"lustre":         true,
	"ceph":           true,
	"fuse.ceph":      true,
	"gpfs":           true,
	"pvfs2":          true,
	"fuse.s3fs":      true,
	"fuse.gcsfuse":   true,
	"fuse.blobfuse":  true,
	"davfs2":         true,
}

// isSystemMount reports OS-internal mount points.
func isSystemMount(mount string) bool {
	systemPrefixes := []string{
		"/System/Volumes/",
		"/private/var/vm",
	}
	for _, prefix := range systemPrefixes {
		if strings.HasPrefix(mount, prefix) {
			return true
		}
	}
	return false
}

// ignoredDevicePrefixes are block devices without real I/O.
var ignoredDevicePrefixes = []string{"loop", "ram", "zram"}

// DiskCollector reports the cumulative I/O counters of every block device as
// disk_octets, disk_ops and disk_time derive samples.
type DiskCollector struct {
	source
	logger *zap.Logger
}

// NewDiskCollector creates a new disk collector.
func NewDiskCollector(host string, logger *zap.Logger) *DiskCollector {
	return &DiskCollector{source: newSource(host), logger: logger}
}

// Name returns the collector identifier.
func (c *DiskCollector) Name() string { return "disk" }

// Collect reads the I/O counters of all block devices.
func (c *DiskCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return c.samples(counters, c.now()), nil
}

func (c *DiskCollector) samples(counters map[string]disk.IOCountersStat, ts time.Time) []models.Sample {
	names := make([]string, 0, len(counters))
	for name := range counters {
		if isIgnoredDevice(name) {
			c.logger.Debug("Skipping device", zap.String("device", name))
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]models.Sample, 0, len(names)*3)
	for _, name := range names {
		io := counters[name]
		out = append(out,
			c.sample("disk", name, "disk_octets", "", models.Derive, ts, float64(io.ReadBytes), float64(io.WriteBytes)),
			c.sample("disk", name, "disk_ops", "", models.Derive, ts, float64(io.ReadCount), float64(io.WriteCount)),
			c.sample("disk", name, "disk_time", "", models.Derive, ts, float64(io.ReadTime), float64(io.WriteTime)),
		)
	}
	return out
}

// IsAvailable returns true; disk counters are available on all platforms.
func (c *DiskCollector) IsAvailable() bool { return true }

func isIgnoredDevice(name string) bool {
	for _, prefix := range ignoredDevicePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// DFCollector reports used and free bytes per mounted local filesystem.
type DFCollector struct {
	source
	logger *zap.Logger
}

// NewDFCollector creates a new filesystem usage collector.
func NewDFCollector(host string, logger *zap.Logger) *DFCollector {
	return &DFCollector{source: newSource(host), logger: logger}
}

// Name returns the collector identifier.
func (c *DFCollector) Name() string { return "df" }

// Collect gathers usage for all mounted partitions.
// Inaccessible partitions are silently skipped.
func (c *DFCollector) Collect(ctx context.Context) ([]models.Sample, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	ts := c.now()
	var out []models.Sample
	for _, p := range partitions {
		if !c.include(p) {
			continue
		}
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			continue
		}
		// Some virtual mounts report 0 size.
		if usage.Total == 0 {
			continue
		}
		out = append(out, c.usageSamples(p.Mountpoint, usage, ts)...)
	}
	return out, nil
}

func (c *DFCollector) include(p disk.PartitionStat) bool {
	if pseudoFSTypes[p.Fstype] {
		c.logger.Debug("Skipping pseudo/network filesystem",
			zap.String("mount", p.Mountpoint),
			zap.String("fstype", p.Fstype))
		return false
	}
	return !isSystemMount(p.Mountpoint)
}

func (c *DFCollector) usageSamples(mount string, usage *disk.UsageStat, ts time.Time) []models.Sample {
	instance := mountInstance(mount)
	return []models.Sample{
		c.sample("df", instance, "df_complex", "used", models.Gauge, ts, float64(usage.Used)),
		c.sample("df", instance, "df_complex", "free", models.Gauge, ts, float64(usage.Free)),
	}
}

// IsAvailable returns true; filesystem usage is available on all platforms.
func (c *DFCollector) IsAvailable() bool { return true }

// mountInstance turns a mount point into an instance name the way collectd
// does: "/" becomes "root", other slashes become dashes.
func mountInstance(mount string) string {
	if mount == "/" {
		return "root"
	}
	return strings.ReplaceAll(strings.Trim(mount, "/"), "/", "-")
}
