package search

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ScanAll walks every document matching query through a scroll cursor and
// calls fn for each hit. It returns the number of hits delivered. The cursor
// is cleared on every exit path.
func (s *Service) ScanAll(ctx context.Context, index string, query json.RawMessage, pageSize int, fn func(Hit) error) (int64, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	page, err := s.Search(ctx, index, query, pageSize, DefaultScroll)
	if err != nil {
		return 0, err
	}

	scrollID := page.ScrollID
	defer func() {
		if scrollID == "" {
			return
		}
		clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.ClearScroll(clearCtx, scrollID); err != nil {
			s.warn("failed to clear scroll", zap.Error(err))
		}
	}()

	var delivered int64
	for len(page.Hits) > 0 {
		for _, hit := range page.Hits {
			if err := fn(hit); err != nil {
				return delivered, err
			}
			delivered++
		}
		if scrollID == "" {
			break
		}
		page, err = s.ScrollNext(ctx, scrollID, DefaultScroll)
		if err != nil {
			return delivered, err
		}
		if page.ScrollID != "" {
			scrollID = page.ScrollID
		}
	}
	return delivered, nil
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
}
