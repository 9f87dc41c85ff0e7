package kvobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/jacentio/storefront/kv"
)

// ErrBreakerOpen is returned while the breaker rejects calls.
var ErrBreakerOpen = errors.New("kv: circuit breaker open")

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// FailureThreshold is the failure ratio that trips the breaker once
	// MinRequests calls have been counted.
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig returns a breaker that trips at 80% failures over at
// least five calls.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// BreakerStore stops calling the backend after repeated failures.
// Failed checks and conflicts are outcomes of a healthy backend and never
// count as failures.
type BreakerStore struct {
	next kv.Store
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next.
func WithBreaker(next kv.Store, cfg BreakerConfig, logger *zap.Logger) *BreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("kv circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: healthy,
	})
	return &BreakerStore{next: next, cb: cb}
}

func healthy(err error) bool {
	return err == nil ||
		errors.Is(err, kv.ErrCheckFailed) ||
		errors.Is(err, kv.ErrConflict) ||
		errors.Is(err, context.Canceled)
}

// State returns the breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

func rejected(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrBreakerOpen, err)
	}
	return err
}

func (s *BreakerStore) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Get(ctx, key)
	})
	if err != nil {
		return kv.Entry{}, rejected(err)
	}
	return res.(kv.Entry), nil
}

func (s *BreakerStore) Commit(ctx context.Context, op *kv.AtomicOperation) (string, error) {
	res, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Commit(ctx, op)
	})
	if err != nil {
		return "", rejected(err)
	}
	return res.(string), nil
}

// List is refused while the breaker is open. Iterator errors are not counted.
func (s *BreakerStore) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) kv.Iterator {
	if s.cb.State() == gobreaker.StateOpen {
		return kv.ErrIterator(rejected(gobreaker.ErrOpenState))
	}
	return s.next.List(ctx, sel, opts)
}

func (s *BreakerStore) Delete(ctx context.Context, key kv.Key) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.next.Delete(ctx, key)
	})
	return rejected(err)
}

func (s *BreakerStore) Close() error {
	return s.next.Close()
}
