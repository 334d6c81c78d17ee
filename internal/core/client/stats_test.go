package client

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsEmptySnapshot(t *testing.T) {
	s := NewStats(time.Minute, 12)
	snap := s.Snapshot()
	assert.Zero(t, snap.AllTime.Count)
	assert.Zero(t, snap.AllTime.Min)
	assert.Zero(t, snap.Window.Count)
	assert.Zero(t, snap.Rate)
	assert.Equal(t, time.Minute, snap.Span)
}

func TestStatsAllTimeAggregates(t *testing.T) {
	s := NewStats(time.Minute, 12)
	s.Add(30 * time.Millisecond)
	s.Add(10 * time.Millisecond)
	s.Add(50 * time.Millisecond)
	s.Add(-time.Second)

	snap := s.Snapshot()
	assert.Equal(t, int64(4), snap.AllTime.Count)
	assert.Equal(t, time.Duration(0), snap.AllTime.Min)
	assert.Equal(t, 50*time.Millisecond, snap.AllTime.Max)
	assert.Equal(t, 90*time.Millisecond, snap.AllTime.Total)
	assert.Equal(t, 22500*time.Microsecond, snap.AllTime.Avg)
}

func TestStatsWindowExpires(t *testing.T) {
	clock := newFakeClock()
	s := NewStats(time.Minute, 12)
	s.now = clock.Now

	s.Add(time.Second)
	clock.Advance(30 * time.Second)
	s.Add(2 * time.Second)

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap.Window.Count)
	assert.InDelta(t, 2.0/60.0, snap.Rate, 1e-9)

	clock.Advance(45 * time.Second)
	snap = s.Snapshot()
	assert.Equal(t, int64(1), snap.Window.Count)
	assert.Equal(t, 2*time.Second, snap.Window.Max)
	assert.Equal(t, int64(2), snap.AllTime.Count)

	clock.Advance(2 * time.Minute)
	snap = s.Snapshot()
	assert.Zero(t, snap.Window.Count)
	assert.Equal(t, int64(2), snap.AllTime.Count)
}

func TestStatsConcurrentAdd(t *testing.T) {
	s := NewStats(time.Minute, 12)
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 1; i <= 500; i++ {
				s.Add(time.Duration(g*1000+i) * time.Microsecond)
			}
		}(g)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Equal(t, int64(8000), snap.AllTime.Count)
	assert.Equal(t, time.Microsecond, snap.AllTime.Min)
	assert.Equal(t, 15500*time.Microsecond, snap.AllTime.Max)
	assert.Equal(t, snap.AllTime.Count, snap.Window.Count)
}

func TestStatsSnapshotDuringAddNeverShowsUnsetMin(t *testing.T) {
	s := NewStats(time.Minute, 12)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2000; i++ {
			s.Add(time.Duration(i+1) * time.Microsecond)
		}
	}()

	for {
		snap := s.Snapshot()
		if snap.AllTime.Count > 0 {
			assert.LessOrEqual(t, snap.AllTime.Min, snap.AllTime.Max)
			assert.LessOrEqual(t, snap.AllTime.Min, 2*time.Millisecond)
		}
		select {
		case <-done:
			return
		default:
		}
	}
}
