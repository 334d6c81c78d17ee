package core

import "time"

// ThrottleState captures per-endpoint throttling state.
type ThrottleState struct {
	RequestCount      int        `json:"request_count" yaml:"request_count"`
	WindowStart       time.Time  `json:"window_start" yaml:"window_start"`
	BackoffUntil      *time.Time `json:"backoff_until,omitempty" yaml:"backoff_until,omitempty"`
	LastBackpressure  *time.Time `json:"last_backpressure,omitempty" yaml:"last_backpressure,omitempty"`
	BackpressureCount int        `json:"backpressure_count" yaml:"backpressure_count"`
}

// ThrottleEntry pairs an endpoint address with its stored state.
type ThrottleEntry struct {
	Endpoint string `json:"endpoint" yaml:"endpoint"`
	ThrottleState `yaml:",inline"`
}
