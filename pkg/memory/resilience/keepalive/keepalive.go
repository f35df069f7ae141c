// Package keepalive runs a background task that periodically pings a
// pooled connection and discards it if the ping fails.
package keepalive

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/relaymind/epimem/pkg/memory/resilience/pool"
)

// Stats mirrors the resilience primitives' named counters: total created,
// refreshed, stale detected, proactive pings, ping failures, active.
type Stats struct {
	Created        atomic.Int64
	Refreshed      atomic.Int64
	StaleDetected  atomic.Int64
	ProactivePings atomic.Int64
	PingFailures   atomic.Int64
	Active         atomic.Int64
}

// Snapshot is a point-in-time copy of Stats suitable for logging/metrics.
type Snapshot struct {
	Created, Refreshed, StaleDetected, ProactivePings, PingFailures, Active int64
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Created:        s.Created.Load(),
		Refreshed:      s.Refreshed.Load(),
		StaleDetected:  s.StaleDetected.Load(),
		ProactivePings: s.ProactivePings.Load(),
		PingFailures:   s.PingFailures.Load(),
		Active:         s.Active.Load(),
	}
}

// Task acquires one connection from the pool on every tick (an idle one if
// available, otherwise a newly created one) and pings it. A connection that
// fails the ping is released as unhealthy and destroyed; the pool creates
// a replacement on a later Acquire. Task does not compare connection age
// against a stale threshold and pings only that one connection per tick.
type Task struct {
	p        *pool.Pool
	factory  pool.Factory
	interval time.Duration
	stats    Stats

	stop chan struct{}
	done chan struct{}
}

// New builds a keep-alive Task. Start must be called to begin the
// background loop.
func New(p *pool.Pool, factory pool.Factory, interval time.Duration) *Task {
	return &Task{
		p:        p,
		factory:  factory,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the ping loop until Stop is called or ctx is cancelled.
func (t *Task) Start(ctx context.Context) {
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				t.sweep(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it to finish.
func (t *Task) Stop() {
	close(t.stop)
	<-t.done
}

func (t *Task) sweep(ctx context.Context) {
	conn, err := t.p.Acquire(ctx)
	if err != nil {
		return
	}
	t.stats.ProactivePings.Add(1)
	if pingErr := t.factory.Ping(ctx, conn.Raw()); pingErr != nil {
		t.stats.PingFailures.Add(1)
		t.stats.StaleDetected.Add(1)
		conn.Release(false)
		t.stats.Refreshed.Add(1)
		return
	}
	conn.Release(true)
}

// Stats returns the task's current counters.
func (t *Task) Stats() Snapshot {
	return t.stats.Snapshot()
}
