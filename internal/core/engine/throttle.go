package engine

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/searchlens/searchlens/internal/core"
)

// Throttle tracks per-endpoint request windows and Retry-After backoff. It
// satisfies client.Gate. Store round trips run under a per-endpoint lock, so
// a slow store only serializes callers of the same endpoint.
type Throttle struct {
	Store  ThrottleStore
	Limits map[string]Limit
	// Default applies to endpoints without an entry in Limits. A zero value
	// leaves them unlimited apart from backoff windows.
	Default Limit
	Clock   func() time.Time
	Margin  float64

	// mu guards Limits, Default and Margin. It is never held across store I/O.
	mu        sync.RWMutex
	endpoints sync.Map // address -> *sync.Mutex
}

// Limit is a request budget over a window.
type Limit struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

func (l Limit) enabled() bool {
	return l.RequestsPerWindow > 0 && l.WindowDuration > 0
}

// ThrottleStore persists throttle state keyed by endpoint address.
type ThrottleStore interface {
	GetThrottle(ctx context.Context, endpoint string) (*core.ThrottleState, error)
	UpdateThrottle(ctx context.Context, endpoint string, state *core.ThrottleState) error
}

// Allow reports whether endpoint may take a request now, or how long to wait.
func (t *Throttle) Allow(ctx context.Context, endpoint string) (bool, time.Duration, error) {
	if t == nil || t.Store == nil {
		return true, 0, nil
	}

	state, err := t.Store.GetThrottle(ctx, endpoint)
	if err != nil {
		return true, 0, err
	}
	if state == nil {
		return true, 0, nil
	}

	now := t.now()
	if state.BackoffUntil != nil && now.Before(*state.BackoffUntil) {
		return false, state.BackoffUntil.Sub(now), nil
	}

	limit := t.limitFor(endpoint)
	if !limit.enabled() {
		return true, 0, nil
	}
	windowEnd := state.WindowStart.Add(limit.WindowDuration)
	if !now.Before(windowEnd) {
		return true, 0, nil
	}
	if state.RequestCount >= limit.RequestsPerWindow {
		return false, windowEnd.Sub(now), nil
	}
	return true, 0, nil
}

// Record counts one request against the endpoint's current window.
func (t *Throttle) Record(ctx context.Context, endpoint string) error {
	if t == nil || t.Store == nil {
		return nil
	}
	unlock := t.lockEndpoint(endpoint)
	defer unlock()

	state, err := t.load(ctx, endpoint)
	if err != nil {
		return err
	}

	now := t.now()
	limit := t.limitFor(endpoint)
	if state.WindowStart.IsZero() || (limit.enabled() && !now.Before(state.WindowStart.Add(limit.WindowDuration))) {
		state.WindowStart = now
		state.RequestCount = 0
	}
	state.RequestCount++

	return t.Store.UpdateThrottle(ctx, endpoint, state)
}

// RecordBackpressure notes a throttled response and, when the cluster sent
// Retry-After, closes the endpoint until it elapses.
func (t *Throttle) RecordBackpressure(ctx context.Context, endpoint string, retryAfter time.Duration) error {
	if t == nil || t.Store == nil {
		return nil
	}
	unlock := t.lockEndpoint(endpoint)
	defer unlock()

	state, err := t.load(ctx, endpoint)
	if err != nil {
		return err
	}

	now := t.now()
	state.LastBackpressure = &now
	state.BackpressureCount++
	if retryAfter > 0 {
		until := now.Add(retryAfter)
		if state.BackoffUntil == nil || until.After(*state.BackoffUntil) {
			state.BackoffUntil = &until
		}
	}

	return t.Store.UpdateThrottle(ctx, endpoint, state)
}

// ApplyOverrides adds per-endpoint request budgets (requests per minute) on
// top of the existing ones.
func (t *Throttle) ApplyOverrides(overrides map[string]int) {
	if t == nil || len(overrides) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Limits == nil {
		t.Limits = make(map[string]Limit, len(overrides))
	}
	mergeLimits(t.Limits, overrides)
}

// ReplaceOverrides swaps the per-endpoint budgets for exactly overrides.
// Endpoints missing from overrides fall back to Default.
func (t *Throttle) ReplaceOverrides(overrides map[string]int) {
	if t == nil {
		return
	}
	limits := make(map[string]Limit, len(overrides))
	mergeLimits(limits, overrides)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Limits = limits
}

func mergeLimits(dst map[string]Limit, overrides map[string]int) {
	for endpoint, value := range overrides {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint == "" || value <= 0 {
			continue
		}
		dst[endpoint] = Limit{RequestsPerWindow: value, WindowDuration: time.Minute}
	}
}

// ApplySafetyMargin scales every request budget by a ratio in (0, 1]. Any
// other value clears the margin.
func (t *Throttle) ApplySafetyMargin(margin float64) {
	if t == nil {
		return
	}
	if margin <= 0 || margin > 1 {
		margin = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Margin = margin
}

func (t *Throttle) lockEndpoint(endpoint string) func() {
	v, _ := t.endpoints.LoadOrStore(endpoint, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (t *Throttle) load(ctx context.Context, endpoint string) (*core.ThrottleState, error) {
	state, err := t.Store.GetThrottle(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &core.ThrottleState{WindowStart: t.now()}
	}
	return state, nil
}

func (t *Throttle) limitFor(endpoint string) Limit {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if limit, ok := t.Limits[endpoint]; ok {
		return t.applyMargin(limit)
	}
	return t.applyMargin(t.Default)
}

func (t *Throttle) now() time.Time {
	if t != nil && t.Clock != nil {
		return t.Clock()
	}
	return time.Now().UTC()
}

func (t *Throttle) applyMargin(limit Limit) Limit {
	if !limit.enabled() || t.Margin <= 0 || t.Margin > 1 {
		return limit
	}
	adjusted := int(math.Floor(float64(limit.RequestsPerWindow) * t.Margin))
	if adjusted < 1 {
		adjusted = 1
	}
	limit.RequestsPerWindow = adjusted
	return limit
}

// MemoryThrottleStore keeps throttle state in process memory.
type MemoryThrottleStore struct {
	mu    sync.Mutex
	state map[string]core.ThrottleState
}

func NewMemoryThrottleStore() *MemoryThrottleStore {
	return &MemoryThrottleStore{state: make(map[string]core.ThrottleState)}
}

func (m *MemoryThrottleStore) GetThrottle(_ context.Context, endpoint string) (*core.ThrottleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[endpoint]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryThrottleStore) UpdateThrottle(_ context.Context, endpoint string, state *core.ThrottleState) error {
	if state == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		m.state = make(map[string]core.ThrottleState)
	}
	m.state[endpoint] = *state
	return nil
}
