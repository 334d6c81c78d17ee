package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/searchlens/searchlens/internal/core"
)

// FormatStats renders one backpressure snapshot.
func FormatStats(format Format, snap core.StatsSnapshot) (string, error) {
	return render(format, snap, func() table.Writer {
		t := newTable(table.Row{"Scope", "Count", "Min", "Max", "Avg", "Total"})
		t.AppendRow(distributionRow("all time", snap.AllTime))
		t.AppendRow(distributionRow("last "+dur(snap.Span), snap.Window))
		t.AppendFooter(table.Row{"rate", fmt.Sprintf("%.3f/s", snap.Rate), "", "", "", timestamp(snap.TakenAt)})
		return t
	})
}

func distributionRow(scope string, d core.Distribution) table.Row {
	return table.Row{scope, d.Count, dur(d.Min), dur(d.Max), dur(d.Avg), dur(d.Total)}
}

// FormatSnapshots renders persisted snapshots, one row each.
func FormatSnapshots(format Format, snaps []core.StatsSnapshot) (string, error) {
	if snaps == nil {
		snaps = []core.StatsSnapshot{}
	}
	return render(format, snaps, func() table.Writer {
		t := newTable(table.Row{"Taken", "Count", "Max", "Avg", "Window", "Window Max", "Rate"})
		for _, s := range snaps {
			t.AppendRow(table.Row{
				timestamp(s.TakenAt),
				s.AllTime.Count,
				dur(s.AllTime.Max),
				dur(s.AllTime.Avg),
				s.Window.Count,
				dur(s.Window.Max),
				fmt.Sprintf("%.3f/s", s.Rate),
			})
		}
		return t
	})
}

// FormatThrottles renders stored per-endpoint throttle state.
func FormatThrottles(format Format, entries []core.ThrottleEntry) (string, error) {
	if entries == nil {
		entries = []core.ThrottleEntry{}
	}
	return render(format, entries, func() table.Writer {
		t := newTable(table.Row{"Endpoint", "Requests", "Window Start", "Backoff Until", "Backpressure", "Last Backpressure"})
		for _, e := range entries {
			backoff, last := "-", "-"
			if e.BackoffUntil != nil {
				backoff = timestamp(*e.BackoffUntil)
			}
			if e.LastBackpressure != nil {
				last = timestamp(*e.LastBackpressure)
			}
			t.AppendRow(table.Row{e.Endpoint, e.RequestCount, timestamp(e.WindowStart), backoff, e.BackpressureCount, last})
		}
		return t
	})
}
