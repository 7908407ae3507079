// Package history provides a bounded, append-only series of yield
// observations with amortized batch eviction. Once the series grows past
// its capacity, the oldest fraction of entries is dropped in a single
// batch rather than one at a time.
package history

import (
	"time"

	"github.com/vexmarkets/yield-engine/internal/model"
)

// DefaultEvictFraction is the share of capacity dropped per eviction batch.
const DefaultEvictFraction = 0.10

// Series is a bounded series of yield observations in insertion order.
// Not safe for concurrent use; the owning component serializes access.
type Series struct {
	entries []model.YieldData
	cap     int
	evict   int // batch size dropped when the cap is exceeded
}

// NewSeries creates a series holding at most capacity entries, evicting
// the oldest ceil(capacity*evictFraction) entries in a batch on overflow.
// A non-positive or >1 fraction falls back to DefaultEvictFraction.
func NewSeries(capacity int, evictFraction float64) *Series {
	if capacity < 1 {
		capacity = 1
	}
	if evictFraction <= 0 || evictFraction > 1 {
		evictFraction = DefaultEvictFraction
	}
	evict := int(float64(capacity) * evictFraction)
	if evict < 1 {
		evict = 1
	}
	return &Series{
		entries: make([]model.YieldData, 0, capacity+1),
		cap:     capacity,
		evict:   evict,
	}
}

// Append adds an observation, batch-evicting the oldest entries if the
// series has outgrown its capacity.
func (s *Series) Append(y model.YieldData) {
	s.entries = append(s.entries, y)
	if len(s.entries) > s.cap {
		n := s.evict
		if n > len(s.entries) {
			n = len(s.entries)
		}
		remaining := len(s.entries) - n
		copy(s.entries, s.entries[n:])
		s.entries = s.entries[:remaining]
	}
}

// Len returns the number of stored observations.
func (s *Series) Len() int {
	return len(s.entries)
}

// Range returns the observations whose timestamps fall in the closed
// interval [from, to], preserving insertion order.
func (s *Series) Range(from, to time.Time) []model.YieldData {
	var out []model.YieldData
	for _, e := range s.entries {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Average returns the floor mean rate over observations with timestamp at
// or after cutoff, and the number of points included. Zero points gives a
// zero average.
func (s *Series) Average(cutoff time.Time) (avgBps int64, count int) {
	var sum int64
	for _, e := range s.entries {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		sum += e.RateBps
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return sum / int64(count), count
}

// Latest returns the most recent observation, or a zero value if empty.
func (s *Series) Latest() (model.YieldData, bool) {
	if len(s.entries) == 0 {
		return model.YieldData{}, false
	}
	return s.entries[len(s.entries)-1], true
}
