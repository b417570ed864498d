// Package topology maps hardware threads to physical cores.
// Uses gopsutil cpu info, which on Linux reports the physical package and
// core id of every logical processor.
package topology

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shirou/gopsutil/v3/cpu"
)

// Topology is an immutable hardware-thread to core mapping.
type Topology struct {
	cores          map[int]string
	threadsPerCore int
}

// New creates a topology from an explicit mapping.
func New(cores map[int]string, threadsPerCore int) *Topology {
	m := make(map[int]string, len(cores))
	for k, v := range cores {
		m[k] = v
	}
	return &Topology{cores: m, threadsPerCore: threadsPerCore}
}

// Detect queries the processor topology of the running host.
func Detect(ctx context.Context) (*Topology, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query cpu info: %w", err)
	}
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("count logical cpus: %w", err)
	}
	return FromInfo(infos, logical)
}

// FromInfo builds the mapping from per-processor cpu info. Cores are
// numbered contiguously from zero in order of their first hardware thread.
func FromInfo(infos []cpu.InfoStat, logical int) (*Topology, error) {
	if len(infos) == 0 || len(infos) != logical {
		return nil, fmt.Errorf("cpu info lists %d processors, expected %d", len(infos), logical)
	}

	ids := make(map[string]int)
	cores := make(map[int]string, len(infos))
	for _, info := range infos {
		if info.CoreID == "" {
			return nil, fmt.Errorf("no core id for processor %d", info.CPU)
		}
		key := info.PhysicalID + ":" + info.CoreID
		id, ok := ids[key]
		if !ok {
			id = len(ids)
			ids[key] = id
		}
		cores[int(info.CPU)] = strconv.Itoa(id)
	}

	return &Topology{
		cores:          cores,
		threadsPerCore: len(infos) / len(ids),
	}, nil
}

// CoreOf returns the core id of a hardware thread.
func (t *Topology) CoreOf(thread int) (string, bool) {
	c, ok := t.cores[thread]
	return c, ok
}

// ThreadsPerCore returns the number of hardware threads per core.
func (t *Topology) ThreadsPerCore() int {
	return t.threadsPerCore
}

// Threads returns the number of hardware threads.
func (t *Topology) Threads() int {
	return len(t.cores)
}
