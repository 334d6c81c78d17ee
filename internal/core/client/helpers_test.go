package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/searchlens/searchlens/internal/core"
)

// scriptedTransport replays a fixed list of statuses, then repeats the last one.
type scriptedTransport struct {
	mu       sync.Mutex
	statuses []int
	bodies   map[int]string
	headers  http.Header
	calls    int
	seen     []core.Endpoint
	latency  time.Duration
	clock    *fakeClock
}

var errNetwork = errors.New("connection refused")

func (s *scriptedTransport) Send(ctx context.Context, endpoint core.Endpoint, req core.Request) (*AttemptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.statuses) {
		idx = len(s.statuses) - 1
	}
	s.calls++
	s.seen = append(s.seen, endpoint)
	if s.clock != nil && s.latency > 0 {
		s.clock.Advance(s.latency)
	}
	status := s.statuses[idx]
	if status == 0 {
		return nil, errNetwork
	}
	return &AttemptResult{StatusCode: status, Header: s.headers, Body: []byte(s.bodies[idx])}, nil
}

func (s *scriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// recordingSleeper advances the fake clock instead of blocking.
type recordingSleeper struct {
	mu     sync.Mutex
	clock  *fakeClock
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	if r.clock != nil {
		r.clock.Advance(d)
	}
	return nil
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.delays))
	copy(out, r.delays)
	return out
}

type countingObserver struct {
	mu           sync.Mutex
	attempts     map[core.Outcome]int
	backpressure []time.Duration
	calls        map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{attempts: map[core.Outcome]int{}, calls: map[string]int{}}
}

func (o *countingObserver) ObserveAttempt(_ core.Endpoint, outcome core.Outcome, _ time.Duration) {
	o.mu.Lock()
	o.attempts[outcome]++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveBackpressure(_ core.Endpoint, sample time.Duration) {
	o.mu.Lock()
	o.backpressure = append(o.backpressure, sample)
	o.mu.Unlock()
}

func (o *countingObserver) ObserveCall(result string, _ int, _ time.Duration) {
	o.mu.Lock()
	o.calls[result]++
	o.mu.Unlock()
}

// unitJitter makes the jitter factor exactly 1 for the default [0.5, 1.5] range.
func unitJitter() float64 { return 0.5 }

func testEndpoints(hosts ...string) []core.Endpoint {
	out := make([]core.Endpoint, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, core.Endpoint{Scheme: "http", Host: h, Port: 9200})
	}
	return out
}

func testPolicy() Policy {
	return Policy{
		BaseDelay:        100 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		MaxRetries:       3,
		MaxElapsed:       time.Minute,
		JitterMin:        0.5,
		JitterMax:        1.5,
		TransportRetries: 2,
	}
}
