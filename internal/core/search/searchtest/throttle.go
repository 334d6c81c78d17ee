package searchtest

import (
	"net/http"
	"strconv"
	"sync/atomic"
)

// ThrottlingProxy sits in front of a handler and rejects every Nth request
// with 429 or a rejected-execution error, the way an overloaded cluster does.
type ThrottlingProxy struct {
	Next       http.Handler
	Every      int64
	RetryAfter int
	// Rejection switches the throttle response to a 500 carrying
	// es_rejected_execution_exception instead of a bare 429.
	Rejection bool

	seen      atomic.Int64
	throttled atomic.Int64
}

// Throttled reports how many requests were rejected.
func (p *ThrottlingProxy) Throttled() int64 {
	return p.throttled.Load()
}

func (p *ThrottlingProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n := p.seen.Add(1)
	if p.Every > 0 && n%p.Every == 0 {
		p.throttled.Add(1)
		if p.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(p.RetryAfter))
		}
		if p.Rejection {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{
					"type":   "es_rejected_execution_exception",
					"reason": "rejected execution of search on queue",
				},
				"status": 429,
			})
			return
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":  map[string]any{"type": "too_many_requests"},
			"status": http.StatusTooManyRequests,
		})
		return
	}
	p.Next.ServeHTTP(w, r)
}
