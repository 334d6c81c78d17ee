package core

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Endpoint identifies one backend cluster node.
type Endpoint struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

// ParseEndpoint accepts "host:port", "host" or a full http(s) URL.
func ParseEndpoint(raw string, defaultScheme string) (Endpoint, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return Endpoint{}, fmt.Errorf("endpoint is required")
	}
	if defaultScheme == "" {
		defaultScheme = "http"
	}
	if !strings.Contains(value, "://") {
		value = defaultScheme + "://" + value
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if parsed.Hostname() == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", raw)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: unsupported scheme %s", raw, parsed.Scheme)
	}

	port := 9200
	if p := parsed.Port(); p != "" {
		if _, err := fmt.Sscanf(p, "%d", &port); err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port", raw)
		}
	}

	return Endpoint{Scheme: scheme, Host: parsed.Hostname(), Port: port}, nil
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// URL returns the base URL of the node.
func (e Endpoint) URL() *url.URL {
	scheme := e.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return &url.URL{Scheme: scheme, Host: e.Address()}
}

func (e Endpoint) String() string {
	return e.URL().String()
}

// Request describes one logical call against the cluster. The client treats it
// as immutable and copies the body for every attempt.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Response is the successful result of a call.
type Response struct {
	StatusCode int           `json:"status_code"`
	Header     http.Header   `json:"-"`
	Body       []byte        `json:"-"`
	Endpoint   Endpoint      `json:"endpoint"`
	Attempts   int           `json:"attempts"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Outcome classifies a single attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeBackpressure
	OutcomeOtherError
	OutcomeFatalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBackpressure:
		return "backpressure"
	case OutcomeOtherError:
		return "other_error"
	case OutcomeFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// Distribution summarizes a set of duration samples.
type Distribution struct {
	Count int64         `json:"count" yaml:"count"`
	Min   time.Duration `json:"min" yaml:"min"`
	Max   time.Duration `json:"max" yaml:"max"`
	Avg   time.Duration `json:"avg" yaml:"avg"`
	Total time.Duration `json:"total" yaml:"total"`
}

// StatsSnapshot is a point-in-time read of backpressure statistics.
type StatsSnapshot struct {
	AllTime Distribution  `json:"all_time" yaml:"all_time"`
	Window  Distribution  `json:"window" yaml:"window"`
	Span    time.Duration `json:"window_span" yaml:"window_span"`
	// Rate is backpressure events per second over the window.
	Rate    float64   `json:"rate" yaml:"rate"`
	TakenAt time.Time `json:"taken_at" yaml:"taken_at"`
}
