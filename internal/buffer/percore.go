package buffer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rdietric/collectd-plugins/internal/models"
)

// Topology maps hardware threads to physical cores.
type Topology interface {
	// CoreOf returns the core id of a hardware thread.
	CoreOf(thread int) (string, bool)
	// ThreadsPerCore returns the SMT width.
	ThreadsPerCore() int
}

// Mode selects how per-core values are combined.
type Mode int

const (
	// ModeSum sums the values of all threads of a core.
	ModeSum Mode = iota
	// ModeAvg sums and divides by the number of threads per core.
	ModeAvg
)

func (m Mode) String() string {
	if m == ModeAvg {
		return "avg"
	}
	return "sum"
}

// ParsePerCore parses "<measurement>:<mode>" entries. A missing mode means sum.
func ParsePerCore(entries []string) (map[string]Mode, error) {
	modes := make(map[string]Mode, len(entries))
	for _, e := range entries {
		name, mode, _ := strings.Cut(strings.TrimSpace(e), ":")
		if name == "" {
			return nil, fmt.Errorf("per_core entry %q: empty measurement", e)
		}
		switch mode {
		case "", "sum":
			modes[name] = ModeSum
		case "avg":
			modes[name] = ModeAvg
		default:
			return nil, fmt.Errorf("per_core entry %q: unknown mode %q", e, mode)
		}
	}
	return modes, nil
}

// PerCore is the per-core aggregation policy. A nil *PerCore disables
// per-core handling.
type PerCore struct {
	modes    map[string]Mode
	topology Topology
	divisor  float64
}

// NewPerCore builds the policy. The divisor is read from topo once and never
// changes afterwards.
func NewPerCore(modes map[string]Mode, topo Topology) *PerCore {
	divisor := topo.ThreadsPerCore()
	if divisor < 1 {
		divisor = 1
	}
	return &PerCore{
		modes:    modes,
		topology: topo,
		divisor:  float64(divisor),
	}
}

// Enabled reports whether measurement is aggregated per core.
func (p *PerCore) Enabled(measurement string) bool {
	if p == nil {
		return false
	}
	_, ok := p.modes[measurement]
	return ok
}

// Averaged reports whether summed values of measurement are divided by the
// threads-per-core divisor.
func (p *PerCore) Averaged(measurement string) bool {
	if p == nil {
		return false
	}
	return p.modes[measurement] == ModeAvg
}

// Divisor returns the threads-per-core divisor.
func (p *PerCore) Divisor() float64 {
	if p == nil {
		return 1
	}
	return p.divisor
}

// Resolve returns a copy of s ready for the store. For per-core
// measurements the instance, a hardware thread id, is replaced by its core id.
func (p *PerCore) Resolve(s *models.Sample) (*models.Sample, error) {
	out := s.Clone()
	if s.Instance == "" || !p.Enabled(s.Measurement) {
		return out, nil
	}
	thread, err := strconv.Atoi(s.Instance)
	if err != nil {
		return nil, fmt.Errorf("instance %q of per-core measurement %s is not a thread id", s.Instance, s.Measurement)
	}
	core, ok := p.topology.CoreOf(thread)
	if !ok {
		return nil, fmt.Errorf("hardware thread %d of %s is not in the topology", thread, s.Measurement)
	}
	out.Instance = core
	return out, nil
}
