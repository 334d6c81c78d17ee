package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
	"github.com/searchlens/searchlens/internal/core/search"
)

type stubSearcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	failOn   string
}

func (s *stubSearcher) Search(ctx context.Context, index string, query json.RawMessage, size int, scroll time.Duration) (*search.SearchResult, error) {
	s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if cur <= peak || s.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	if index == s.failOn {
		return nil, &client.Error{Kind: client.KindBackpressureExhausted, Attempts: 3}
	}
	return &search.SearchResult{Total: 10, Hits: make([]search.Hit, size)}, nil
}

type fixedStats struct{ snap core.StatsSnapshot }

func (f fixedStats) BackpressureStats() core.StatsSnapshot { return f.snap }

// growingStats returns start on the first read and end afterwards.
type growingStats struct {
	reads      atomic.Int32
	start, end core.StatsSnapshot
}

func (g *growingStats) BackpressureStats() core.StatsSnapshot {
	if g.reads.Add(1) == 1 {
		return g.start
	}
	return g.end
}

func TestRunnerRunsAllQueriesWithBoundedConcurrency(t *testing.T) {
	searcher := &stubSearcher{}
	runner := &Runner{
		Searcher:    searcher,
		Stats:       fixedStats{snap: core.StatsSnapshot{AllTime: core.Distribution{Count: 4}}},
		Concurrency: 3,
		KeepResults: true,
	}

	queries := make([]Query, 20)
	for i := range queries {
		queries[i] = Query{Index: fmt.Sprintf("idx-%d", i%4), Size: 2}
	}

	report, err := runner.Run(context.Background(), queries)
	require.NoError(t, err)
	assert.Equal(t, 20, report.Queries)
	assert.Equal(t, 20, report.Succeeded)
	assert.Equal(t, int32(20), searcher.calls.Load())
	assert.LessOrEqual(t, searcher.peak.Load(), int32(3))
	assert.Equal(t, 3, report.Concurrency)
	assert.Zero(t, report.Backpressure.AllTime.Count, "no backpressure during the run")
	assert.Len(t, report.Results, 20)
	assert.Equal(t, 2, report.Results[7].Hits)
	assert.GreaterOrEqual(t, report.P95, report.P50)
	assert.Positive(t, report.Throughput)
}

func TestRunnerCountsFailuresByKind(t *testing.T) {
	runner := &Runner{Searcher: &stubSearcher{failOn: "hot"}, Concurrency: 2}

	report, err := runner.Run(context.Background(), []Query{
		{Index: "hot"}, {Index: "cold"}, {Index: "hot"}, {Index: "cold"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, map[string]int{"backpressure_exhausted": 2}, report.FailureKinds)
	assert.Nil(t, report.Results)
}

func TestRunnerHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &Runner{Searcher: &stubSearcher{}, Concurrency: 2}

	_, err := runner.Run(ctx, []Query{{Index: "a"}, {Index: "b"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 0.5))
	assert.Equal(t, time.Duration(9), percentile(sorted, 0.95))
	assert.Zero(t, percentile(nil, 0.5))
}

func TestRunnerReportsOnlyBackpressureFromTheRun(t *testing.T) {
	ms := time.Millisecond
	stats := &growingStats{
		start: core.StatsSnapshot{AllTime: core.Distribution{Count: 7, Min: ms, Max: 900 * ms, Total: 1400 * ms}},
		end: core.StatsSnapshot{
			AllTime: core.Distribution{Count: 10, Min: ms, Max: 900 * ms, Total: 2000 * ms},
			Window:  core.Distribution{Count: 3, Min: 100 * ms, Max: 300 * ms, Total: 600 * ms},
		},
	}
	runner := &Runner{Searcher: &stubSearcher{}, Stats: stats, Concurrency: 2}

	report, err := runner.Run(context.Background(), []Query{{Index: "a"}, {Index: "b"}})
	require.NoError(t, err)

	got := report.Backpressure.AllTime
	assert.Equal(t, int64(3), got.Count)
	assert.Equal(t, 600*ms, got.Total)
	assert.Equal(t, 200*ms, got.Avg)
	assert.Equal(t, 100*ms, got.Min)
	assert.Equal(t, 300*ms, got.Max)
	assert.Equal(t, int64(3), report.Backpressure.Window.Count)
}

func TestRunnerReportsNoBackpressureOverPreloadedStats(t *testing.T) {
	preloaded := core.StatsSnapshot{AllTime: core.Distribution{Count: 7, Min: time.Millisecond, Max: time.Second, Total: 3 * time.Second}}
	runner := &Runner{Searcher: &stubSearcher{}, Stats: fixedStats{snap: preloaded}}

	report, err := runner.Run(context.Background(), []Query{{Index: "a"}})
	require.NoError(t, err)
	assert.Equal(t, core.Distribution{}, report.Backpressure.AllTime)
}
