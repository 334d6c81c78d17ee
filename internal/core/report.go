package core

import "time"

// QueryResult is the outcome of one query issued by a load run.
type QueryResult struct {
	Seq      int           `json:"seq" yaml:"seq"`
	Index    string        `json:"index" yaml:"index"`
	Hits     int           `json:"hits" yaml:"hits"`
	Total    int64         `json:"total" yaml:"total"`
	Latency  time.Duration `json:"latency" yaml:"latency"`
	Attempts int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	ErrKind  string        `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
}

// RunReport summarizes a concurrent load run.
type RunReport struct {
	Queries      int            `json:"queries" yaml:"queries"`
	Concurrency  int            `json:"concurrency" yaml:"concurrency"`
	Succeeded    int            `json:"succeeded" yaml:"succeeded"`
	Failed       int            `json:"failed" yaml:"failed"`
	FailureKinds map[string]int `json:"failure_kinds,omitempty" yaml:"failure_kinds,omitempty"`
	Latency      Distribution   `json:"latency" yaml:"latency"`
	P50          time.Duration  `json:"p50" yaml:"p50"`
	P95          time.Duration  `json:"p95" yaml:"p95"`
	Elapsed      time.Duration  `json:"elapsed" yaml:"elapsed"`
	Throughput   float64        `json:"throughput_qps" yaml:"throughput_qps"`
	Backpressure StatsSnapshot  `json:"backpressure" yaml:"backpressure"`
	Results      []QueryResult  `json:"results,omitempty" yaml:"results,omitempty"`
}
