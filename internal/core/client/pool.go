package client

import (
	"errors"
	"sync/atomic"

	"github.com/searchlens/searchlens/internal/core"
)

// ErrNoEndpoints is returned by New and SetEndpoints for an empty pool.
var ErrNoEndpoints = errors.New("endpoint pool is empty")

// Pool hands out endpoints round-robin. Reads and swaps are lock-free.
type Pool struct {
	endpoints atomic.Pointer[[]core.Endpoint]
	next      atomic.Uint64
}

// NewPool copies endpoints into a new pool.
func NewPool(endpoints []core.Endpoint) (*Pool, error) {
	p := &Pool{}
	if err := p.Set(endpoints); err != nil {
		return nil, err
	}
	return p, nil
}

// Set replaces the pool contents. In-flight calls keep the endpoint they drew.
func (p *Pool) Set(endpoints []core.Endpoint) error {
	if len(endpoints) == 0 {
		return ErrNoEndpoints
	}
	cp := make([]core.Endpoint, len(endpoints))
	copy(cp, endpoints)
	p.endpoints.Store(&cp)
	return nil
}

// Next returns the next endpoint in rotation.
func (p *Pool) Next() core.Endpoint {
	list := *p.endpoints.Load()
	if len(list) == 1 {
		return list[0]
	}
	idx := p.next.Add(1) - 1
	return list[idx%uint64(len(list))]
}

// Len reports the number of endpoints.
func (p *Pool) Len() int {
	return len(*p.endpoints.Load())
}

// List returns a copy of the endpoints.
func (p *Pool) List() []core.Endpoint {
	list := *p.endpoints.Load()
	cp := make([]core.Endpoint, len(list))
	copy(cp, list)
	return cp
}
