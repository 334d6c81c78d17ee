package client

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/searchlens/searchlens/internal/core"
)

const (
	DefaultStatsWindow  = time.Minute
	DefaultStatsBuckets = 12
)

// Stats accumulates backpressure samples. A sample is the time one throttled
// attempt cost the caller. It is safe for concurrent use; there is no reset.
type Stats struct {
	count atomic.Int64
	total atomic.Int64
	min   atomic.Int64
	max   atomic.Int64

	window  time.Duration
	width   time.Duration
	now     func() time.Time
	mu      sync.Mutex
	buckets []statsBucket
}

type statsBucket struct {
	epoch int64
	count int64
	total int64
	min   int64
	max   int64
}

// NewStats creates a Stats with a rolling window split into the given number
// of buckets. Non-positive arguments fall back to defaults.
func NewStats(window time.Duration, buckets int) *Stats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	if buckets <= 0 {
		buckets = DefaultStatsBuckets
	}
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = time.Nanosecond
	}
	s := &Stats{
		window:  window,
		width:   width,
		now:     time.Now,
		buckets: make([]statsBucket, buckets),
	}
	s.min.Store(math.MaxInt64)
	for i := range s.buckets {
		s.buckets[i].epoch = -1
	}
	return s
}

// Add records one sample. Negative samples are clamped to zero.
func (s *Stats) Add(sample time.Duration) {
	v := int64(sample)
	if v < 0 {
		v = 0
	}

	// count moves last so a reader that sees it also sees min and max.
	for {
		cur := s.min.Load()
		if v >= cur || s.min.CompareAndSwap(cur, v) {
			break
		}
	}
	for {
		cur := s.max.Load()
		if v <= cur || s.max.CompareAndSwap(cur, v) {
			break
		}
	}
	s.total.Add(v)
	s.count.Add(1)

	epoch := s.now().UnixNano() / int64(s.width)
	s.mu.Lock()
	b := &s.buckets[epoch%int64(len(s.buckets))]
	if b.epoch != epoch {
		*b = statsBucket{epoch: epoch, min: math.MaxInt64}
	}
	b.count++
	b.total += v
	if v < b.min {
		b.min = v
	}
	if v > b.max {
		b.max = v
	}
	s.mu.Unlock()
}

// Count returns the all-time number of samples.
func (s *Stats) Count() int64 {
	return s.count.Load()
}

// Snapshot returns all-time and windowed distributions.
func (s *Stats) Snapshot() core.StatsSnapshot {
	now := s.now()
	snap := core.StatsSnapshot{
		Span:    s.window,
		TakenAt: now.UTC(),
	}

	count := s.count.Load()
	snap.AllTime = distribution(count, s.total.Load(), s.min.Load(), s.max.Load())

	current := now.UnixNano() / int64(s.width)
	oldest := current - int64(len(s.buckets)) + 1
	var wCount, wTotal int64
	wMin, wMax := int64(math.MaxInt64), int64(0)
	s.mu.Lock()
	for _, b := range s.buckets {
		if b.epoch < oldest || b.epoch > current || b.count == 0 {
			continue
		}
		wCount += b.count
		wTotal += b.total
		if b.min < wMin {
			wMin = b.min
		}
		if b.max > wMax {
			wMax = b.max
		}
	}
	s.mu.Unlock()

	snap.Window = distribution(wCount, wTotal, wMin, wMax)
	snap.Rate = float64(wCount) / s.window.Seconds()
	return snap
}

func distribution(count, total, minV, maxV int64) core.Distribution {
	if count == 0 {
		return core.Distribution{}
	}
	return core.Distribution{
		Count: count,
		Min:   time.Duration(minV),
		Max:   time.Duration(maxV),
		Avg:   time.Duration(total / count),
		Total: time.Duration(total),
	}
}
