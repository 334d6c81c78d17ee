package client

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Policy bounds how a call retries.
type Policy struct {
	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps the pre-jitter backoff.
	MaxDelay time.Duration
	// MaxRetries caps the number of attempts while the backend signals backpressure.
	MaxRetries int
	// MaxElapsed caps the wall time of a call including waits. Zero disables it.
	MaxElapsed time.Duration
	// JitterMin and JitterMax bound the multiplicative jitter factor.
	JitterMin float64
	JitterMax float64
	// TransportRetries caps attempts that end in network or non-load 5xx errors.
	TransportRetries int
}

// DefaultPolicy mirrors the defaults shipped in config.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:        50 * time.Millisecond,
		MaxDelay:         2 * time.Second,
		MaxRetries:       10,
		MaxElapsed:       time.Minute,
		JitterMin:        0.5,
		JitterMax:        1.5,
		TransportRetries: 3,
	}
}

// Validate rejects policies that cannot terminate or produce negative waits.
func (p Policy) Validate() error {
	switch {
	case p.BaseDelay <= 0:
		return errors.New("base delay must be positive")
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("max delay %s is below base delay %s", p.MaxDelay, p.BaseDelay)
	case p.MaxRetries < 1:
		return errors.New("max retries must be at least 1")
	case p.TransportRetries < 1:
		return errors.New("transport retries must be at least 1")
	case p.MaxElapsed < 0:
		return errors.New("max elapsed must not be negative")
	case p.JitterMin <= 0 || p.JitterMax < p.JitterMin:
		return fmt.Errorf("invalid jitter range [%g, %g]", p.JitterMin, p.JitterMax)
	}
	return nil
}

// BaseBackoff returns the pre-jitter delay after the given attempt (1-based):
// min(MaxDelay, BaseDelay * 2^(attempt-1)).
func (p Policy) BaseBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 62 {
		return p.MaxDelay
	}
	multiplier := int64(1) << shift
	base := int64(p.BaseDelay)
	if base > math.MaxInt64/multiplier {
		return p.MaxDelay
	}
	delay := time.Duration(base * multiplier)
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Backoff applies jitter to BaseBackoff. u must be uniform in [0, 1).
func (p Policy) Backoff(attempt int, u float64) time.Duration {
	factor := p.JitterMin + (p.JitterMax-p.JitterMin)*u
	delay := time.Duration(float64(p.BaseBackoff(attempt)) * factor)
	if ceiling := p.MaxWait(); delay > ceiling {
		return ceiling
	}
	return delay
}

// MaxWait is the largest wait the policy can impose between attempts.
func (p Policy) MaxWait() time.Duration {
	return time.Duration(float64(p.MaxDelay) * p.JitterMax)
}
