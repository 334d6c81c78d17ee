package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/searchlens/searchlens/internal/core/search"
)

// sourceWidth caps the _source column in tables.
const sourceWidth = 80

// FormatSearch renders one page of hits.
func FormatSearch(format Format, result *search.SearchResult) (string, error) {
	if result == nil {
		return "", nil
	}
	var v any = result
	if format == FormatYAML {
		generic, err := viaJSON(result)
		if err != nil {
			return "", err
		}
		v = generic
	}
	return render(format, v, func() table.Writer {
		t := newTable(table.Row{"Index", "ID", "Score", "Source"})
		for _, h := range result.Hits {
			score := "-"
			if h.Score != nil {
				score = fmt.Sprintf("%.3f", *h.Score)
			}
			t.AppendRow(table.Row{h.Index, h.ID, score, truncate(string(h.Source), sourceWidth)})
		}
		t.AppendFooter(table.Row{"", "", "total", fmt.Sprintf("%d (%d shown, took %dms)", result.Total, len(result.Hits), result.Took)})
		return t
	})
}

// FormatNodes renders discovered cluster nodes.
func FormatNodes(format Format, nodes []search.Node) (string, error) {
	if nodes == nil {
		nodes = []search.Node{}
	}
	return render(format, nodes, func() table.Writer {
		t := newTable(table.Row{"ID", "Name", "Address", "Endpoint"})
		for _, n := range nodes {
			t.AppendRow(table.Row{n.ID, n.Name, n.Address, n.Endpoint.String()})
		}
		return t
	})
}

// CountResult is the outcome of a count request.
type CountResult struct {
	Index string `json:"index" yaml:"index"`
	Count int64  `json:"count" yaml:"count"`
}

// FormatCount renders a document count.
func FormatCount(format Format, result CountResult) (string, error) {
	return render(format, result, func() table.Writer {
		t := newTable(table.Row{"Index", "Count"})
		t.AppendRow(table.Row{result.Index, result.Count})
		return t
	})
}
