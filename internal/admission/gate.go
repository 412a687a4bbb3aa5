// Package admission bounds the number of concurrently running workers per
// request class. Rejection is immediate; nothing is queued.
package admission

import (
	"fmt"
	"sync"
)

// Class partitions requests into independently limited pools.
type Class string

const (
	Streaming    Class = "streaming"
	NonStreaming Class = "non-streaming"
)

// PoolStatus is a point-in-time view of one pool.
type PoolStatus struct {
	Active int `json:"active"`
	Limit  int `json:"limit"`
}

type pool struct {
	active int
	limit  int
}

// Gate holds the per-class counters. A single mutex makes check-and-increment
// one indivisible step, so active never exceeds limit.
type Gate struct {
	mu    sync.Mutex
	pools map[Class]*pool
}

// NewGate returns a Gate with the given limits. Unlisted classes have limit
// zero and reject everything.
func NewGate(limits map[Class]int) (*Gate, error) {
	g := &Gate{pools: make(map[Class]*pool)}
	for class, limit := range limits {
		if err := g.Configure(class, limit); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Configure sets the limit for class. A negative limit is rejected and the
// previous configuration is kept. Zero is legal and disables the class.
// Lowering a limit below the active count does not evict running work; new
// acquisitions fail until enough slots drain.
func (g *Gate) Configure(class Class, limit int) error {
	if limit < 0 {
		return fmt.Errorf("concurrency limit for %q must be a nonnegative integer, got %d", class, limit)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pools[class]
	if !ok {
		p = &pool{}
		g.pools[class] = p
	}
	p.limit = limit
	return nil
}

// Acquire takes a slot in class. It returns false, without changing
// anything, when the class is full.
func (g *Gate) Acquire(class Class) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pools[class]
	if !ok || p.active >= p.limit {
		return false
	}
	p.active++
	return true
}

// Release returns a slot to class. Extra releases are clamped at zero.
func (g *Gate) Release(class Class) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.pools[class]; ok && p.active > 0 {
		p.active--
	}
}

// Status reports every configured pool.
func (g *Gate) Status() map[Class]PoolStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[Class]PoolStatus, len(g.pools))
	for class, p := range g.pools {
		out[class] = PoolStatus{Active: p.active, Limit: p.limit}
	}
	return out
}

// Reset zeroes every active counter, keeping limits.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.pools {
		p.active = 0
	}
}
