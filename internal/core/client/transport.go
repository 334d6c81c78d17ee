package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/searchlens/searchlens/internal/core"
)

// AttemptResult is the raw outcome of a single send.
type AttemptResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs one attempt against one endpoint.
type Transport interface {
	Send(ctx context.Context, endpoint core.Endpoint, req core.Request) (*AttemptResult, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, endpoint core.Endpoint, req core.Request) (*AttemptResult, error)

func (f TransportFunc) Send(ctx context.Context, endpoint core.Endpoint, req core.Request) (*AttemptResult, error) {
	return f(ctx, endpoint, req)
}

// DefaultMaxBodyBytes bounds how much of a response body is buffered.
const DefaultMaxBodyBytes int64 = 64 << 20

// HTTPTransport sends requests with an *http.Client.
type HTTPTransport struct {
	Client       *http.Client
	UserAgent    string
	Username     string
	Password     string
	MaxBodyBytes int64
}

// NewHTTPTransport returns a transport with the given per-attempt timeout.
func NewHTTPTransport(timeout time.Duration, userAgent string) *HTTPTransport {
	return &HTTPTransport{
		Client:       &http.Client{Timeout: timeout},
		UserAgent:    userAgent,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, endpoint core.Endpoint, req core.Request) (*AttemptResult, error) {
	target := endpoint.URL()
	target.Path = req.Path
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		// fresh reader per attempt so retries resend the full body
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if t.UserAgent != "" {
		httpReq.Header.Set("User-Agent", t.UserAgent)
	}
	if id := core.OpaqueID(ctx); id != "" && httpReq.Header.Get(core.OpaqueIDHeader) == "" {
		httpReq.Header.Set(core.OpaqueIDHeader, id)
	}
	if t.Username != "" {
		httpReq.SetBasicAuth(t.Username, t.Password)
	}

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	limit := t.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &AttemptResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}
