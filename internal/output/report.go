package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/searchlens/searchlens/internal/core"
)

// FormatReport renders a load run summary. Per-query rows are only shown
// when the report kept them.
func FormatReport(format Format, report *core.RunReport) (string, error) {
	if report == nil {
		return "", nil
	}
	return render(format, report, func() table.Writer {
		t := newTable(table.Row{"Metric", "Value"})
		t.AppendRows([]table.Row{
			{"queries", report.Queries},
			{"concurrency", report.Concurrency},
			{"succeeded", report.Succeeded},
			{"failed", report.Failed},
			{"elapsed", dur(report.Elapsed)},
			{"throughput", fmt.Sprintf("%.1f q/s", report.Throughput)},
			{"latency p50", dur(report.P50)},
			{"latency p95", dur(report.P95)},
			{"latency max", dur(report.Latency.Max)},
			{"backpressure events", report.Backpressure.AllTime.Count},
			{"backpressure max", dur(report.Backpressure.AllTime.Max)},
			{"backpressure avg", dur(report.Backpressure.AllTime.Avg)},
		})
		if len(report.FailureKinds) > 0 {
			t.AppendRow(table.Row{"failures", failureSummary(report.FailureKinds)})
		}
		for _, r := range report.Results {
			status := "ok"
			if r.Error != "" {
				status = r.ErrKind
			}
			t.AppendRow(table.Row{
				fmt.Sprintf("#%d %s", r.Seq, r.Index),
				fmt.Sprintf("%s hits=%d attempts=%d %s", status, r.Hits, r.Attempts, dur(r.Latency)),
			})
		}
		return t
	})
}

func failureSummary(kinds map[string]int) string {
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", k, kinds[k]))
	}
	return strings.Join(parts, ", ")
}
