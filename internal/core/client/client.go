// Package client wraps HTTP calls to a search cluster with backpressure-aware
// retries and keeps statistics about the time lost to throttling.
package client

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/searchlens/searchlens/internal/core"
)

// Gate tracks per-endpoint throttle windows across calls.
type Gate interface {
	// Allow reports whether endpoint may be used now, and otherwise how long to wait.
	Allow(ctx context.Context, endpoint string) (bool, time.Duration, error)
	Record(ctx context.Context, endpoint string) error
	RecordBackpressure(ctx context.Context, endpoint string, retryAfter time.Duration) error
}

// Observer receives per-attempt and per-call events.
type Observer interface {
	ObserveAttempt(endpoint core.Endpoint, outcome core.Outcome, duration time.Duration)
	ObserveBackpressure(endpoint core.Endpoint, sample time.Duration)
	ObserveCall(result string, attempts int, elapsed time.Duration)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client executes requests against a pool of endpoints.
type Client struct {
	pool       *Pool
	policy     Policy
	transport  Transport
	classifier Classifier
	stats      *Stats
	observer   Observer
	gate       Gate
	limiter    *rate.Limiter
	logger     *logging.Logger
	sleep      Sleeper
	now        func() time.Time
	random     func() float64
}

// Option configures a Client.
type Option func(*Client)

func WithTransport(t Transport) Option {
	return func(c *Client) {
		if t != nil {
			c.transport = t
		}
	}
}

func WithClassifier(cl Classifier) Option {
	return func(c *Client) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// WithStats shares an existing Stats instead of allocating one per client.
func WithStats(s *Stats) Option {
	return func(c *Client) {
		if s != nil {
			c.stats = s
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func WithGate(g Gate) Option {
	return func(c *Client) { c.gate = g }
}

// WithRateLimit caps outbound attempts per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRandom overrides the jitter source. f must return values in [0, 1).
func WithRandom(f func() float64) Option {
	return func(c *Client) {
		if f != nil {
			c.random = f
		}
	}
}

// CallOption adjusts a single Execute call.
type CallOption func(*callSettings)

type callSettings struct {
	timeout time.Duration
}

// WithTimeout bounds the whole call, waits included.
func WithTimeout(d time.Duration) CallOption {
	return func(s *callSettings) { s.timeout = d }
}

// New validates the pool and policy and builds a client.
func New(endpoints []core.Endpoint, policy Policy, opts ...Option) (*Client, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	pool, err := NewPool(endpoints)
	if err != nil {
		return nil, err
	}

	c := &Client{
		pool:       pool,
		policy:     policy,
		transport:  NewHTTPTransport(30*time.Second, ""),
		classifier: StatusClassifier{},
		sleep:      SleepWithContext,
		now:        time.Now,
		random:     rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.stats == nil {
		c.stats = NewStats(DefaultStatsWindow, DefaultStatsBuckets)
	}
	return c, nil
}

// Policy returns the retry policy.
func (c *Client) Policy() Policy {
	return c.policy
}

// Stats returns the statistics owned by this client.
func (c *Client) Stats() *Stats {
	return c.stats
}

// BackpressureStats returns a snapshot of the backpressure statistics.
func (c *Client) BackpressureStats() core.StatsSnapshot {
	return c.stats.Snapshot()
}

// Endpoints returns the current pool.
func (c *Client) Endpoints() []core.Endpoint {
	return c.pool.List()
}

// SetEndpoints replaces the pool, e.g. after node discovery.
func (c *Client) SetEndpoints(endpoints []core.Endpoint) error {
	return c.pool.Set(endpoints)
}

type callState struct {
	start      time.Time
	attempts   int
	throttled  int
	failed     int
	lastStatus int
	endpoint   core.Endpoint

	// pending holds the backpressure sample of the previous attempt until
	// the next send, so it covers the backoff and any gate wait after it.
	pending   time.Duration
	pendingEP core.Endpoint
	hasSample bool
}

// Execute sends req, retrying while the cluster signals backpressure or
// transient failure. Any returned error is a *Error.
func (c *Client) Execute(ctx context.Context, req core.Request, opts ...CallOption) (*core.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var settings callSettings
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, settings.timeout)
		defer cancel()
	}

	st := &callState{start: c.now()}
	for {
		if err := ctx.Err(); err != nil {
			c.flush(st)
			return nil, c.fail(st, KindTimeout, err)
		}

		endpoint, err := c.pick(ctx, st)
		c.flush(st)
		if err != nil {
			return nil, err
		}
		st.endpoint = endpoint

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, c.fail(st, KindTimeout, contextCause(ctx, err))
			}
		}

		st.attempts++
		attemptStart := c.now()
		result, sendErr := c.transport.Send(ctx, endpoint, req)
		duration := c.now().Sub(attemptStart)

		if sendErr != nil && ctx.Err() != nil {
			return nil, c.fail(st, KindTimeout, ctx.Err())
		}

		outcome := c.classifier.Classify(result, sendErr)
		if result != nil {
			st.lastStatus = result.StatusCode
		}
		if c.observer != nil {
			c.observer.ObserveAttempt(endpoint, outcome, duration)
		}
		if c.gate != nil {
			if err := c.gate.Record(ctx, endpoint.Address()); err != nil {
				c.debug("throttle record failed", zap.String("endpoint", endpoint.Address()), zap.Error(err))
			}
		}

		switch outcome {
		case core.OutcomeSuccess:
			elapsed := c.now().Sub(st.start)
			if c.observer != nil {
				c.observer.ObserveCall("success", st.attempts, elapsed)
			}
			return &core.Response{
				StatusCode: result.StatusCode,
				Header:     result.Header,
				Body:       result.Body,
				Endpoint:   endpoint,
				Attempts:   st.attempts,
				Elapsed:    elapsed,
			}, nil

		case core.OutcomeFatalError:
			e := c.fail(st, KindRequestRejected, nil)
			if result != nil {
				e.Body = result.Body
			}
			return nil, e

		case core.OutcomeBackpressure:
			st.throttled++
			var retryAfter time.Duration
			if result != nil {
				retryAfter = RetryAfter(result.Header, c.now())
			}
			if c.gate != nil {
				// The gate window never outlasts the longest wait this client imposes.
				if err := c.gate.RecordBackpressure(ctx, endpoint.Address(), min(retryAfter, c.policy.MaxWait())); err != nil {
					c.debug("throttle backoff record failed", zap.String("endpoint", endpoint.Address()), zap.Error(err))
				}
			}

			delay, retry := c.nextDelay(st, st.throttled, c.policy.MaxRetries, retryAfter)
			if !retry {
				c.record(endpoint, duration)
				c.warn("backpressure retries exhausted",
					zap.String("endpoint", endpoint.Address()),
					zap.Int("attempts", st.attempts),
					zap.Int("status", st.lastStatus))
				return nil, c.fail(st, KindBackpressureExhausted, nil)
			}
			st.pending, st.pendingEP, st.hasSample = duration+delay, endpoint, true
			c.debug("backpressure, retrying",
				zap.String("endpoint", endpoint.Address()),
				zap.Int("status", st.lastStatus),
				zap.Int("attempt", st.attempts),
				zap.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				c.flush(st)
				return nil, c.fail(st, KindTimeout, err)
			}

		default:
			st.failed++
			delay, retry := c.nextDelay(st, st.failed, c.policy.TransportRetries, 0)
			if !retry {
				return nil, c.fail(st, KindTransportFailure, sendErr)
			}
			c.debug("transient failure, retrying",
				zap.String("endpoint", endpoint.Address()),
				zap.Int("status", st.lastStatus),
				zap.Int("attempt", st.attempts),
				zap.Duration("delay", delay),
				zap.Error(sendErr))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, c.fail(st, KindTimeout, err)
			}
		}
	}
}

// nextDelay returns the wait before the next attempt and whether one is
// allowed. used counts attempts already spent against budget.
func (c *Client) nextDelay(st *callState, used, budget int, retryAfter time.Duration) (time.Duration, bool) {
	if used >= budget {
		return 0, false
	}
	delay := c.policy.Backoff(st.attempts, c.random())
	if retryAfter > delay {
		delay = min(retryAfter, c.policy.MaxWait())
	}
	if c.policy.MaxElapsed > 0 && c.now().Sub(st.start)+delay > c.policy.MaxElapsed {
		return 0, false
	}
	return delay, true
}

// pick draws the next endpoint not held back by the gate. When every endpoint
// is gated it waits for the earliest window to close.
func (c *Client) pick(ctx context.Context, st *callState) (core.Endpoint, error) {
	if c.gate == nil {
		return c.pool.Next(), nil
	}
	for {
		n := c.pool.Len()
		shortest := time.Duration(-1)
		var candidate core.Endpoint
		for i := 0; i < n; i++ {
			ep := c.pool.Next()
			ok, wait, err := c.gate.Allow(ctx, ep.Address())
			if err != nil {
				c.debug("throttle lookup failed", zap.String("endpoint", ep.Address()), zap.Error(err))
				return ep, nil
			}
			if ok {
				return ep, nil
			}
			if shortest < 0 || wait < shortest {
				shortest = wait
				candidate = ep
			}
		}

		st.endpoint = candidate
		if c.policy.MaxElapsed > 0 && c.now().Sub(st.start)+shortest > c.policy.MaxElapsed {
			return core.Endpoint{}, c.fail(st, KindBackpressureExhausted, errors.New("all endpoints throttled"))
		}
		c.debug("all endpoints throttled, waiting",
			zap.Int("endpoints", n),
			zap.Duration("wait", shortest))
		if err := c.sleep(ctx, shortest); err != nil {
			return core.Endpoint{}, c.fail(st, KindTimeout, err)
		}
		if st.hasSample {
			st.pending += shortest
		}
	}
}

// flush records the pending backpressure sample, if any.
func (c *Client) flush(st *callState) {
	if !st.hasSample {
		return
	}
	st.hasSample = false
	c.record(st.pendingEP, st.pending)
}

func (c *Client) record(endpoint core.Endpoint, sample time.Duration) {
	c.stats.Add(sample)
	if c.observer != nil {
		c.observer.ObserveBackpressure(endpoint, sample)
	}
}

func (c *Client) fail(st *callState, kind Kind, cause error) *Error {
	e := &Error{
		Kind:       kind,
		Attempts:   st.attempts,
		Elapsed:    c.now().Sub(st.start),
		LastStatus: st.lastStatus,
		Endpoint:   st.endpoint,
		Err:        cause,
	}
	if c.observer != nil {
		c.observer.ObserveCall(string(kind), st.attempts, e.Elapsed)
	}
	return e
}

func (c *Client) debug(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Debug(msg, fields...)
	}
}

func (c *Client) warn(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Warn(msg, fields...)
	}
}

// contextCause prefers the context error over the limiter's own message.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// SleepWithContext blocks for d or until ctx is done.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
