package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
	"github.com/searchlens/searchlens/internal/core/search"
)

// Searcher runs one search request.
type Searcher interface {
	Search(ctx context.Context, index string, query json.RawMessage, size int, scroll time.Duration) (*search.SearchResult, error)
}

// StatsSource supplies the backpressure snapshots a report is diffed from.
type StatsSource interface {
	BackpressureStats() core.StatsSnapshot
}

// Query is one unit of work for a Runner.
type Query struct {
	Index string
	Body  json.RawMessage
	Size  int
}

// Runner issues queries concurrently and aggregates their latency.
type Runner struct {
	Searcher    Searcher
	Stats       StatsSource
	Concurrency int
	// KeepResults retains per-query results in the report.
	KeepResults bool
	Clock       func() time.Time
}

type runJob struct {
	seq   int
	query Query
}

// Run executes every query. Individual query failures are counted in the
// report; only a cancelled context aborts the run.
func (r *Runner) Run(ctx context.Context, queries []Query) (*core.RunReport, error) {
	if r == nil || r.Searcher == nil {
		return nil, errors.New("runner has no searcher")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	concurrency := r.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(queries) {
		concurrency = len(queries)
	}

	var before core.StatsSnapshot
	if r.Stats != nil {
		before = r.Stats.BackpressureStats()
	}
	startedAt := r.now()
	results := make([]core.QueryResult, len(queries))
	jobs := make(chan runJob)

	var wg sync.WaitGroup
	worker := func() {
		defer wg.Done()
		for job := range jobs {
			results[job.seq] = r.runOne(ctx, job)
		}
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go worker()
	}

sendLoop:
	for i, q := range queries {
		select {
		case <-ctx.Done():
			break sendLoop
		case jobs <- runJob{seq: i, query: q}:
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := summarize(results, r.now().Sub(startedAt))
	report.Concurrency = concurrency
	if r.Stats != nil {
		report.Backpressure = statsDelta(before, r.Stats.BackpressureStats())
	}
	if r.KeepResults {
		report.Results = results
	}
	return report, nil
}

func (r *Runner) runOne(ctx context.Context, job runJob) core.QueryResult {
	result := core.QueryResult{Seq: job.seq, Index: job.query.Index}
	start := r.now()
	res, err := r.Searcher.Search(ctx, job.query.Index, job.query.Body, job.query.Size, 0)
	result.Latency = r.now().Sub(start)
	if err != nil {
		result.Error = err.Error()
		result.ErrKind = string(client.KindOf(err))
		if result.ErrKind == "" {
			result.ErrKind = "error"
		}
		var ce *client.Error
		if errors.As(err, &ce) {
			result.Attempts = ce.Attempts
		}
		return result
	}
	result.Hits = len(res.Hits)
	result.Total = res.Total
	return result
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func summarize(results []core.QueryResult, elapsed time.Duration) *core.RunReport {
	report := &core.RunReport{Queries: len(results), Elapsed: elapsed}
	latencies := make([]time.Duration, 0, len(results))
	var total time.Duration
	for _, res := range results {
		if res.Error != "" {
			report.Failed++
			if report.FailureKinds == nil {
				report.FailureKinds = map[string]int{}
			}
			report.FailureKinds[res.ErrKind]++
			continue
		}
		report.Succeeded++
		latencies = append(latencies, res.Latency)
		total += res.Latency
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		report.Latency = core.Distribution{
			Count: int64(len(latencies)),
			Min:   latencies[0],
			Max:   latencies[len(latencies)-1],
			Avg:   total / time.Duration(len(latencies)),
			Total: total,
		}
		report.P50 = percentile(latencies, 0.50)
		report.P95 = percentile(latencies, 0.95)
	}
	if elapsed > 0 {
		report.Throughput = float64(report.Succeeded) / elapsed.Seconds()
	}
	return report
}

// statsDelta reports the all-time samples added between before and after.
// Min and Max cannot be diffed, so they are taken from the window when the run
// added samples; the window figures come from after as is.
func statsDelta(before, after core.StatsSnapshot) core.StatsSnapshot {
	delta := after
	count := after.AllTime.Count - before.AllTime.Count
	if count <= 0 {
		delta.AllTime = core.Distribution{}
		return delta
	}
	total := after.AllTime.Total - before.AllTime.Total
	delta.AllTime = core.Distribution{
		Count: count,
		Min:   after.Window.Min,
		Max:   after.Window.Max,
		Avg:   total / time.Duration(count),
		Total: total,
	}
	if after.Window.Count == 0 {
		delta.AllTime.Min, delta.AllTime.Max = after.AllTime.Min, after.AllTime.Max
	}
	return delta
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
