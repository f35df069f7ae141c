// Package pool implements a semaphore-guarded connection pool with a
// per-connection state machine: Fresh -> Idle <-> InUse -> Stale ->
// Closed(terminal).
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	apperrors "github.com/relaymind/epimem/internal/errors"
)

// State is a connection's position in the state machine.
type State int

const (
	StateFresh State = iota
	StateIdle
	StateInUse
	StateStale
	StateClosed
)

// Factory creates a new underlying connection. Ping checks liveness.
// Destroy releases the underlying resource.
type Factory interface {
	Create(ctx context.Context) (interface{}, error)
	Ping(ctx context.Context, conn interface{}) error
	Destroy(conn interface{}) error
}

// Conn wraps a pooled resource with its lifecycle state.
type Conn struct {
	pool      *Pool
	raw       interface{}
	state     State
	createdAt time.Time
	lastUsed  time.Time
	mu        sync.Mutex
}

// Raw returns the underlying resource created by the Factory.
func (c *Conn) Raw() interface{} {
	return c.raw
}

// Release returns the connection to the pool unless it was marked
// unhealthy, in which case it transitions to Closed and is destroyed.
func (c *Conn) Release(healthy bool) {
	c.pool.release(c, healthy)
}

// Stats tracks the pool's lifetime counters, atomic across concurrent callers.
type Stats struct {
	Created  int
	Active   int
	Idle     int
	Stale    int
	Closed   int
	Acquired int
	TimedOut int
}

// Config tunes pool sizing and timeouts.
type Config struct {
	MaxConnections int
	AcquireTimeout time.Duration
	StaleThreshold time.Duration
}

// Pool is a bounded set of pooled connections guarded by a weighted
// semaphore capping concurrent acquisitions at MaxConnections.
type Pool struct {
	cfg     Config
	factory Factory
	sem     *semaphore.Weighted

	mu    sync.Mutex
	idle  []*Conn
	stats Stats
}

// New builds a Pool. Connections are created lazily on first Acquire.
func New(cfg Config, factory Factory) *Pool {
	return &Pool{
		cfg:     cfg,
		factory: factory,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConnections)),
	}
}

// Acquire returns a pooled connection, creating one if none are idle. It
// blocks up to cfg.AcquireTimeout for a semaphore slot; on timeout it
// returns a PoolExhausted error.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	acquireCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	if err := p.sem.Acquire(acquireCtx, 1); err != nil {
		p.mu.Lock()
		p.stats.TimedOut++
		p.mu.Unlock()
		return nil, apperrors.NewPoolExhaustedError("timed out acquiring a connection")
	}

	p.mu.Lock()
	var conn *Conn
	for len(p.idle) > 0 {
		candidate := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if p.cfg.StaleThreshold > 0 && time.Since(candidate.lastUsed) > p.cfg.StaleThreshold {
			candidate.state = StateStale
			p.stats.Idle--
			p.stats.Stale++
			p.mu.Unlock()
			p.destroy(candidate)
			p.mu.Lock()
			continue
		}
		conn = candidate
		break
	}
	p.mu.Unlock()

	if conn == nil {
		raw, err := p.factory.Create(ctx)
		if err != nil {
			p.sem.Release(1)
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeDatabase, "create pooled connection")
		}
		conn = &Conn{pool: p, raw: raw, state: StateFresh, createdAt: time.Now()}
		p.mu.Lock()
		p.stats.Created++
		p.mu.Unlock()
	} else {
		p.mu.Lock()
		p.stats.Idle--
		p.mu.Unlock()
	}

	conn.mu.Lock()
	conn.state = StateInUse
	conn.lastUsed = time.Now()
	conn.mu.Unlock()

	p.mu.Lock()
	p.stats.Active++
	p.stats.Acquired++
	p.mu.Unlock()

	return conn, nil
}

func (p *Pool) release(c *Conn, healthy bool) {
	c.mu.Lock()
	c.lastUsed = time.Now()
	if healthy {
		c.state = StateIdle
	} else {
		c.state = StateClosed
	}
	c.mu.Unlock()

	p.mu.Lock()
	p.stats.Active--
	p.mu.Unlock()

	if !healthy {
		p.destroy(c)
		p.sem.Release(1)
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.stats.Idle++
	p.mu.Unlock()
	p.sem.Release(1)
}

func (p *Pool) destroy(c *Conn) {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	_ = p.factory.Destroy(c.raw)
	p.mu.Lock()
	p.stats.Closed++
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close drains and destroys every idle connection. In-flight connections
// are destroyed as they're released.
func (p *Pool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		p.destroy(c)
	}
}
