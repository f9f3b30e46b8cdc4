package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Manager assigns string keys to a fixed number of buckets with murmur3.
// The in-memory stores use it for lock striping so unrelated keys never
// contend on the same mutex.
type Manager struct {
	buckets    int
	hasherPool sync.Pool
}

// NewManager creates a bucketing manager with the given bucket count.
func NewManager(buckets int) *Manager {
	if buckets <= 0 {
		buckets = 16
	}
	return &Manager{
		buckets: buckets,
		hasherPool: sync.Pool{
			New: func() interface{} {
				return murmur3.New64()
			},
		},
	}
}

// Buckets returns the configured bucket count.
func (m *Manager) Buckets() int {
	return m.buckets
}

// GetBucket returns a consistent bucket for key in [0, Buckets).
func (m *Manager) GetBucket(key string) int {
	h := m.hasherPool.Get().(hash.Hash64)
	h.Reset()
	_, _ = h.Write([]byte(key))
	bucket := int(h.Sum64() % uint64(m.buckets))
	m.hasherPool.Put(h)
	return bucket
}
