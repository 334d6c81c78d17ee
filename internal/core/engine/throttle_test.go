package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchlens/searchlens/internal/core"
	"github.com/searchlens/searchlens/internal/core/client"
)

var _ client.Gate = (*Throttle)(nil)

func TestThrottleWindow(t *testing.T) {
	store := NewMemoryThrottleStore()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	throttle := &Throttle{
		Store: store,
		Limits: map[string]Limit{
			"es-1:9200": {RequestsPerWindow: 1, WindowDuration: time.Minute},
		},
		Clock: func() time.Time { return clock },
	}

	allowed, _, err := throttle.Allow(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, throttle.Record(context.Background(), "es-1:9200"))

	allowed, wait, err := throttle.Allow(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, time.Minute, wait)

	clock = clock.Add(time.Minute)
	allowed, _, err = throttle.Allow(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.True(t, allowed)

	require.NoError(t, throttle.Record(context.Background(), "es-1:9200"))
	state, err := store.GetThrottle(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.Equal(t, 1, state.RequestCount)
	require.Equal(t, clock, state.WindowStart)
}

func TestThrottleUnlimitedByDefault(t *testing.T) {
	throttle := &Throttle{Store: NewMemoryThrottleStore()}
	for i := 0; i < 100; i++ {
		require.NoError(t, throttle.Record(context.Background(), "es-1:9200"))
	}
	allowed, _, err := throttle.Allow(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestThrottleBackoff(t *testing.T) {
	store := NewMemoryThrottleStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	throttle := &Throttle{
		Store: store,
		Clock: func() time.Time { return now },
	}

	require.NoError(t, throttle.RecordBackpressure(context.Background(), "es-1:9200", 30*time.Second))
	require.NoError(t, throttle.RecordBackpressure(context.Background(), "es-1:9200", 5*time.Second))

	allowed, wait, err := throttle.Allow(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.False(t, allowed)
	require.Equal(t, 30*time.Second, wait)

	state, err := store.GetThrottle(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.Equal(t, 2, state.BackpressureCount)
	require.NotNil(t, state.LastBackpressure)

	now = now.Add(31 * time.Second)
	allowed, _, err = throttle.Allow(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestThrottleBackpressureWithoutRetryAfterDoesNotGate(t *testing.T) {
	throttle := &Throttle{Store: NewMemoryThrottleStore()}
	require.NoError(t, throttle.RecordBackpressure(context.Background(), "es-1:9200", 0))

	allowed, _, err := throttle.Allow(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestThrottleMargin(t *testing.T) {
	throttle := &Throttle{
		Store: NewMemoryThrottleStore(),
		Limits: map[string]Limit{
			"es-1:9200": {RequestsPerWindow: 10, WindowDuration: time.Minute},
		},
	}

	throttle.ApplySafetyMargin(0.9)
	require.Equal(t, 9, throttle.limitFor("es-1:9200").RequestsPerWindow)

	throttle.ApplyOverrides(map[string]int{"es-2:9200": 100, " ": 5, "es-3:9200": 0})
	require.Equal(t, 90, throttle.limitFor("es-2:9200").RequestsPerWindow)
	require.False(t, throttle.limitFor("es-3:9200").enabled())
}

func TestNilThrottleAllowsEverything(t *testing.T) {
	var throttle *Throttle
	allowed, _, err := throttle.Allow(context.Background(), "x")
	require.NoError(t, err)
	require.True(t, allowed)
	require.NoError(t, throttle.Record(context.Background(), "x"))
	require.NoError(t, throttle.RecordBackpressure(context.Background(), "x", time.Second))
}

func TestThrottleReplaceOverridesDropsRemovedLimits(t *testing.T) {
	throttle := &Throttle{Store: NewMemoryThrottleStore()}
	throttle.ApplyOverrides(map[string]int{"es-1:9200": 1, "es-2:9200": 5})
	throttle.ApplySafetyMargin(0.5)
	require.Equal(t, 2, throttle.limitFor("es-2:9200").RequestsPerWindow)

	throttle.ReplaceOverrides(map[string]int{"es-2:9200": 8})
	require.False(t, throttle.limitFor("es-1:9200").enabled())
	require.Equal(t, 4, throttle.limitFor("es-2:9200").RequestsPerWindow)

	throttle.ApplySafetyMargin(0)
	require.Equal(t, 8, throttle.limitFor("es-2:9200").RequestsPerWindow)

	throttle.ReplaceOverrides(nil)
	require.Empty(t, throttle.Limits)
}

// slowStore adds a fixed delay to every round trip, like a remote database.
type slowStore struct {
	*MemoryThrottleStore
	delay time.Duration
}

func (s slowStore) GetThrottle(ctx context.Context, endpoint string) (*core.ThrottleState, error) {
	time.Sleep(s.delay)
	return s.MemoryThrottleStore.GetThrottle(ctx, endpoint)
}

func (s slowStore) UpdateThrottle(ctx context.Context, endpoint string, state *core.ThrottleState) error {
	time.Sleep(s.delay)
	return s.MemoryThrottleStore.UpdateThrottle(ctx, endpoint, state)
}

func TestThrottleDoesNotSerializeDistinctEndpoints(t *testing.T) {
	const (
		endpoints = 8
		delay     = 50 * time.Millisecond
	)
	throttle := &Throttle{Store: slowStore{MemoryThrottleStore: NewMemoryThrottleStore(), delay: delay}}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < endpoints; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ep := fmt.Sprintf("es-%d:9200", i)
			_, _, err := throttle.Allow(context.Background(), ep)
			assert.NoError(t, err)
			assert.NoError(t, throttle.Record(context.Background(), ep))
		}(i)
	}
	wg.Wait()

	// Serialized, eight endpoints would take 8 * 3 round trips.
	require.Less(t, time.Since(start), endpoints*delay)
}

func TestThrottleRecordCountsConcurrentRequests(t *testing.T) {
	store := NewMemoryThrottleStore()
	throttle := &Throttle{
		Store:  store,
		Limits: map[string]Limit{"es-1:9200": {RequestsPerWindow: 1000, WindowDuration: time.Minute}},
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, throttle.Record(context.Background(), "es-1:9200"))
		}()
	}
	wg.Wait()

	state, err := store.GetThrottle(context.Background(), "es-1:9200")
	require.NoError(t, err)
	require.Equal(t, 50, state.RequestCount)
}

// stepClock is a manual clock shared by the client and the throttle.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) sleeper(delays *[]time.Duration) client.Sleeper {
	return func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		*delays = append(*delays, d)
		c.now = c.now.Add(d)
		c.mu.Unlock()
		return nil
	}
}

func newGatedClient(t *testing.T, throttle *Throttle, clock *stepClock, delays *[]time.Duration, transport client.TransportFunc) *client.Client {
	t.Helper()
	policy := client.DefaultPolicy()
	policy.BaseDelay = 50 * time.Millisecond
	policy.MaxDelay = time.Second
	c, err := client.New(
		[]core.Endpoint{{Scheme: "http", Host: "es-1", Port: 9200}},
		policy,
		client.WithTransport(transport),
		client.WithGate(throttle),
		client.WithClock(clock.Now),
		client.WithSleeper(clock.sleeper(delays)),
		client.WithRandom(func() float64 { return 0.5 }),
	)
	require.NoError(t, err)
	return c
}

// throttleOnce answers the first request with 429 and header, then 200.
func throttleOnce(header http.Header) client.TransportFunc {
	var calls int
	var mu sync.Mutex
	return func(ctx context.Context, endpoint core.Endpoint, req core.Request) (*client.AttemptResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return &client.AttemptResult{StatusCode: http.StatusTooManyRequests, Header: header}, nil
		}
		return &client.AttemptResult{StatusCode: http.StatusOK}, nil
	}
}

func TestThrottleGateKeepsRetryAfterWithinMaxWait(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	throttle := &Throttle{Store: NewMemoryThrottleStore(), Clock: clock.Now}
	var delays []time.Duration
	c := newGatedClient(t, throttle, clock, &delays, throttleOnce(http.Header{"Retry-After": []string{"10"}}))

	start := clock.Now()
	_, err := c.Execute(context.Background(), core.Request{Path: "/"})
	require.NoError(t, err)

	maxWait := c.Policy().MaxWait()
	require.Equal(t, 1500*time.Millisecond, maxWait)
	require.Equal(t, []time.Duration{maxWait}, delays, "no second wait on the gate after the capped backoff")
	require.Equal(t, maxWait, clock.Now().Sub(start))

	snap := c.BackpressureStats()
	require.Equal(t, int64(1), snap.AllTime.Count)
	require.Equal(t, maxWait, snap.AllTime.Max)
}

func TestThrottleGateWaitCountsTowardsSample(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	throttle := &Throttle{
		Store:  NewMemoryThrottleStore(),
		Clock:  clock.Now,
		Limits: map[string]Limit{"es-1:9200": {RequestsPerWindow: 1, WindowDuration: 5 * time.Second}},
	}
	var delays []time.Duration
	c := newGatedClient(t, throttle, clock, &delays, throttleOnce(nil))

	_, err := c.Execute(context.Background(), core.Request{Path: "/"})
	require.NoError(t, err)

	// Backoff of 50ms, then the rest of the 5s request window on the gate.
	require.Equal(t, []time.Duration{50 * time.Millisecond, 4950 * time.Millisecond}, delays)
	snap := c.BackpressureStats()
	require.Equal(t, int64(1), snap.AllTime.Count)
	require.Equal(t, 5*time.Second, snap.AllTime.Max)
}
