package recovery

import (
	"fmt"
	"time"

	"github.com/aristath/quotafeed/internal/domain"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// State is the breaker state as reported to operators.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 60 * time.Second
)

// halfOpenCalls is how many calls a HALF_OPEN breaker admits before it closes or reopens.
const halfOpenCalls = 1

// CircuitBreaker stops provider calls after a run of consecutive failures.
//
// After Cooldown an OPEN breaker turns HALF_OPEN and admits one trial call: success closes it,
// failure opens it again for another Cooldown.
type CircuitBreaker struct {
	name      string
	threshold int
	cb        *gobreaker.TwoStepCircuitBreaker
	log       zerolog.Logger
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments take the defaults.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, log zerolog.Logger) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}

	b := &CircuitBreaker{
		name:      name,
		threshold: threshold,
		log:       log.With().Str("component", "circuit_breaker").Str("breaker", name).Logger(),
	}

	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpenCalls,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.log.Warn().
				Str("from", string(mapState(from))).
				Str("to", string(mapState(to))).
				Msg("Circuit breaker state changed")
		},
	})

	return b
}

// Allow admits one call. The caller must report its outcome through done.
// A refusal wraps domain.ErrCircuitOpen.
func (b *CircuitBreaker) Allow() (done func(success bool), err error) {
	done, err = b.cb.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%v)", domain.ErrCircuitOpen, b.name, err)
	}
	return done, nil
}

// RecordFailure counts one failed call. Ignored while the breaker refuses calls.
func (b *CircuitBreaker) RecordFailure() {
	if done, err := b.cb.Allow(); err == nil {
		done(false)
	}
}

// RecordSuccess counts one successful call.
func (b *CircuitBreaker) RecordSuccess() {
	if done, err := b.cb.Allow(); err == nil {
		done(true)
	}
}

// ShouldAllowCall reports whether Allow would admit a call right now.
// A HALF_OPEN breaker whose trial call is still in flight refuses.
func (b *CircuitBreaker) ShouldAllowCall() bool {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return false
	case gobreaker.StateHalfOpen:
		return b.cb.Counts().Requests < halfOpenCalls
	default:
		return true
	}
}

// State returns the current state. An expired OPEN state reads as HALF_OPEN.
func (b *CircuitBreaker) State() State {
	return mapState(b.cb.State())
}

// Failures returns the current run of consecutive failures.
func (b *CircuitBreaker) Failures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}

// Threshold returns the number of consecutive failures that trips the breaker.
func (b *CircuitBreaker) Threshold() int {
	return b.threshold
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
