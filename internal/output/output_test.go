package output

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/search"
)

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{
		"":         FormatTable,
		"table":    FormatTable,
		"JSON":     FormatJSON,
		"yml":      FormatYAML,
		"yaml":     FormatYAML,
		"md":       FormatMarkdown,
		"markdown": FormatMarkdown,
	}
	for in, want := range tests {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("csv")
	require.Error(t, err)
}

func sampleSnapshot() core.StatsSnapshot {
	return core.StatsSnapshot{
		AllTime: core.Distribution{Count: 2, Min: 110 * time.Millisecond, Max: 210 * time.Millisecond, Avg: 160 * time.Millisecond, Total: 320 * time.Millisecond},
		Window:  core.Distribution{Count: 1, Min: 210 * time.Millisecond, Max: 210 * time.Millisecond, Avg: 210 * time.Millisecond, Total: 210 * time.Millisecond},
		Span:    time.Minute,
		Rate:    1.0 / 60,
		TakenAt: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestFormatStatsTable(t *testing.T) {
	rendered, err := FormatStats(FormatTable, sampleSnapshot())
	require.NoError(t, err)
	assert.Contains(t, rendered, "SCOPE")
	assert.Contains(t, rendered, "all time")
	assert.Contains(t, rendered, "last 1m0s")
	assert.Contains(t, rendered, "210ms")
	assert.Contains(t, rendered, "2026-03-15T12:00:00Z")
}

func TestFormatStatsJSONAndYAML(t *testing.T) {
	rendered, err := FormatStats(FormatJSON, sampleSnapshot())
	require.NoError(t, err)
	var snap core.StatsSnapshot
	require.NoError(t, json.Unmarshal([]byte(rendered), &snap))
	assert.Equal(t, int64(2), snap.AllTime.Count)
	assert.Equal(t, 110*time.Millisecond, snap.AllTime.Min)

	rendered, err = FormatStats(FormatYAML, sampleSnapshot())
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &doc))
	assert.Contains(t, doc, "all_time")
	assert.Contains(t, rendered, "max: 210ms")
}

func TestFormatStatsMarkdown(t *testing.T) {
	rendered, err := FormatStats(FormatMarkdown, sampleSnapshot())
	require.NoError(t, err)
	assert.Contains(t, rendered, "| all time |")
}

func TestFormatThrottles(t *testing.T) {
	until := time.Date(2026, 3, 15, 12, 0, 5, 0, time.UTC)
	entries := []core.ThrottleEntry{{
		Endpoint: "es-1:9200",
		ThrottleState: core.ThrottleState{
			RequestCount:      7,
			WindowStart:       time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
			BackoffUntil:      &until,
			BackpressureCount: 2,
		},
	}}

	rendered, err := FormatThrottles(FormatTable, entries)
	require.NoError(t, err)
	assert.Contains(t, rendered, "es-1:9200")
	assert.Contains(t, rendered, "2026-03-15T12:00:05Z")

	rendered, err = FormatThrottles(FormatJSON, entries)
	require.NoError(t, err)
	assert.Contains(t, rendered, `"endpoint": "es-1:9200"`)
	assert.Contains(t, rendered, `"backpressure_count": 2`)

	rendered, err = FormatThrottles(FormatYAML, entries)
	require.NoError(t, err)
	assert.Contains(t, rendered, "request_count: 7")

	rendered, err = FormatThrottles(FormatJSON, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", rendered)
}

func TestFormatSnapshots(t *testing.T) {
	rendered, err := FormatSnapshots(FormatTable, []core.StatsSnapshot{sampleSnapshot()})
	require.NoError(t, err)
	assert.Contains(t, rendered, "TAKEN")
	assert.Contains(t, rendered, "0.017/s")
}

func TestFormatReport(t *testing.T) {
	report := &core.RunReport{
		Queries:      3,
		Concurrency:  2,
		Succeeded:    2,
		Failed:       1,
		FailureKinds: map[string]int{"timeout": 1},
		P50:          40 * time.Millisecond,
		P95:          90 * time.Millisecond,
		Elapsed:      time.Second,
		Throughput:   3,
		Backpressure: sampleSnapshot(),
		Results: []core.QueryResult{
			{Seq: 1, Index: "logs", Hits: 10, Attempts: 1, Latency: 40 * time.Millisecond},
			{Seq: 2, Index: "logs", Error: "call timed out", ErrKind: "timeout", Attempts: 3},
		},
	}

	rendered, err := FormatReport(FormatTable, report)
	require.NoError(t, err)
	assert.Contains(t, rendered, "timeout=1")
	assert.Contains(t, rendered, "backpressure events")
	assert.Contains(t, rendered, "#2 logs")

	rendered, err = FormatReport(FormatJSON, report)
	require.NoError(t, err)
	assert.Contains(t, rendered, `"throughput_qps": 3`)
}

func TestFormatSearch(t *testing.T) {
	score := 1.5
	result := &search.SearchResult{
		Total: 12,
		Took:  4,
		Hits: []search.Hit{
			{Index: "logs", ID: "a1", Score: &score, Source: json.RawMessage(`{"level":"error","msg":"disk full"}`)},
		},
	}

	rendered, err := FormatSearch(FormatTable, result)
	require.NoError(t, err)
	assert.Contains(t, rendered, "a1")
	assert.Contains(t, rendered, "1.500")
	assert.Contains(t, rendered, "12 (1 shown, took 4ms)")

	rendered, err = FormatSearch(FormatYAML, result)
	require.NoError(t, err)
	assert.Contains(t, rendered, "level: error")
}

func TestFormatNodes(t *testing.T) {
	nodes := []search.Node{{ID: "n1", Name: "es-1", Address: "10.0.0.1:9200", Endpoint: core.Endpoint{Scheme: "http", Host: "10.0.0.1", Port: 9200}}}

	rendered, err := FormatNodes(FormatTable, nodes)
	require.NoError(t, err)
	assert.Contains(t, rendered, "http://10.0.0.1:9200")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestFormatCount(t *testing.T) {
	rendered, err := FormatCount(FormatJSON, CountResult{Index: "logs", Count: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":"logs","count":42}`, rendered)

	rendered, err = FormatCount(FormatTable, CountResult{Index: "logs", Count: 42})
	require.NoError(t, err)
	assert.Contains(t, rendered, "42")
}

func TestEncodeFallsBackToJSON(t *testing.T) {
	v := map[string]int{"deleted": 2}

	rendered, err := Encode(FormatTable, v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted":2}`, rendered)

	rendered, err = Encode(FormatYAML, v)
	require.NoError(t, err)
	assert.Equal(t, "deleted: 2", rendered)
}
