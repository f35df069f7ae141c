// Package breaker wraps sony/gobreaker to translate circuit-open failures
// into the engine's typed CircuitOpen error.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	apperrors "github.com/relaymind/epimem/internal/errors"
)

// State mirrors the three states the resilience design names explicitly.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// Config tunes when the breaker trips and how long it stays open.
type Config struct {
	// Name identifies the dependency this breaker guards, surfaced in
	// CircuitOpen errors.
	Name string
	// FailureThreshold is the number of consecutive failures within
	// the window that trips the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays Open before probing.
	Cooldown time.Duration
}

// Breaker guards calls to a single dependency.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker
	name string
}

// New builds a Breaker from Config.
func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings), name: cfg.Name}
}

// Execute runs fn behind the breaker. If the breaker is Open, fn is never
// called and a CircuitOpen AppError is returned.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewCircuitOpenError(b.name)
	}
	return err
}

// State reports the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateOpen
	}
}

// Counts returns the breaker's internal request/failure counters.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}
