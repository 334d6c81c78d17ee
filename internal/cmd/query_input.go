package cmd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/searchlens/searchlens/internal/core/engine"
)

// maxQueryLine bounds a single NDJSON line in a query file.
const maxQueryLine = 4 << 20

// resolveQuery returns the query DSL from --query or --query-file. Neither
// means match_all, which the search service fills in for an empty body.
func resolveQuery(inline string, queryFile string) (json.RawMessage, error) {
	inline = strings.TrimSpace(inline)
	queryFile = strings.TrimSpace(queryFile)
	if inline != "" && queryFile != "" {
		return nil, fmt.Errorf("--query and --query-file are mutually exclusive")
	}

	raw := []byte(inline)
	if queryFile != "" {
		reader, closeFn, err := openInput(queryFile)
		if err != nil {
			return nil, err
		}
		defer closeFn()
		raw, err = io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("query is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

// queryLine is one line of a batch file.
type queryLine struct {
	Index string          `json:"index"`
	Query json.RawMessage `json:"query"`
	Size  *int            `json:"size"`
}

// readQueryFile parses an NDJSON batch file. Lines without an index use
// defaultIndex; blank lines and lines starting with # are skipped.
func readQueryFile(path string, defaultIndex string, defaultSize int) ([]engine.Query, error) {
	reader, closeFn, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	queries := make([]engine.Query, 0)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxQueryLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var parsed queryLine
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return nil, fmt.Errorf("invalid query on line %d: %w", line, err)
		}
		index := strings.TrimSpace(parsed.Index)
		if index == "" {
			index = defaultIndex
		}
		if index == "" {
			return nil, fmt.Errorf("line %d: index is required (set it in the line or pass --index)", line)
		}
		size := defaultSize
		if parsed.Size != nil {
			size = *parsed.Size
		}
		queries = append(queries, engine.Query{Index: index, Body: parsed.Query, Size: size})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries found")
	}
	return queries, nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}
