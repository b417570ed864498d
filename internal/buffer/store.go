// Package buffer holds samples between flushes. Samples are grouped by
// measurement, instance and host, and kept in arrival order within each group.
// Per-core measurements are summed into one entry per metric and second.
package buffer

import (
	"github.com/rdietric/collectd-plugins/internal/models"
)

// Bucket is the ordered list of samples sharing a measurement, instance and
// host.
type Bucket struct {
	Measurement string
	Instance    string
	Host        string
	Samples     []*models.Sample

	// index locates the merge target for per-core aggregation.
	index map[mergeKey]*models.Sample
}

type bucketKey struct {
	measurement string
	instance    string
	host        string
}

type mergeKey struct {
	typ    string
	name   string
	second int64
}

// Store is the in-memory batch of unsent samples. It is not safe for
// concurrent use; the engine serialises access.
type Store struct {
	perCore *PerCore
	buckets map[bucketKey]*Bucket
	order   []*Bucket
	size    int
}

// New creates an empty store. perCore may be nil, in which case every sample
// is appended.
func New(perCore *PerCore) *Store {
	return &Store{
		perCore: perCore,
		buckets: make(map[bucketKey]*Bucket),
	}
}

// Add inserts s into its bucket and takes ownership of it. It returns true if
// a new entry was appended and false if s was summed into an existing entry.
func (st *Store) Add(s *models.Sample) bool {
	key := bucketKey{measurement: s.Measurement, instance: s.Instance, host: s.Host}
	b, ok := st.buckets[key]
	if !ok {
		b = &Bucket{
			Measurement: s.Measurement,
			Instance:    s.Instance,
			Host:        s.Host,
		}
		st.buckets[key] = b
		st.order = append(st.order, b)
	}

	if s.Instance != "" && st.perCore.Enabled(s.Measurement) {
		mk := mergeKey{typ: s.Type, name: s.Name, second: s.Second()}
		if target, found := b.index[mk]; found && mergeInto(target, s) {
			return false
		}
		if b.index == nil {
			b.index = make(map[mergeKey]*models.Sample)
		}
		if _, found := b.index[mk]; !found {
			b.index[mk] = s
		}
	}

	b.Samples = append(b.Samples, s)
	st.size++
	return true
}

// mergeInto adds the values of s element-wise into target.
func mergeInto(target, s *models.Sample) bool {
	if len(target.Values) != len(s.Values) {
		return false
	}
	for i, v := range s.Values {
		target.Values[i] += v
	}
	target.Overflow = target.Overflow || s.Overflow
	return true
}

// Size returns the number of entries in the store.
func (st *Store) Size() int {
	return st.size
}

// Buckets returns the buckets in first-insertion order. The returned slice
// must not be modified.
func (st *Store) Buckets() []*Bucket {
	return st.order
}

// Clear drops all entries.
func (st *Store) Clear() {
	st.buckets = make(map[bucketKey]*Bucket)
	st.order = nil
	st.size = 0
}
