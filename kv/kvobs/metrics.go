// Package kvobs decorates a kv.Store with metrics, tracing and a circuit
// breaker. Each decorator is a kv.Store itself, so they stack.
package kvobs

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jacentio/storefront/kv"
)

// Operation labels.
const (
	opGet    = "get"
	opCommit = "commit"
	opList   = "list"
	opDelete = "delete"
)

// Metrics holds the Prometheus collectors for store operations.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Entries    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "operations_total",
				Help:      "Total number of key-value operations by result",
			},
			[]string{"op", "result"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "operation_duration_seconds",
				Help:      "Key-value operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		Entries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "kv",
				Name:      "listed_entries_total",
				Help:      "Total number of entries yielded by list iterators",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Operations, m.Duration, m.Entries)
	}
	return m
}

// Result classifies err for the result label.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, kv.ErrCheckFailed):
		return "check_failed"
	case errors.Is(err, kv.ErrConflict):
		return "conflict"
	case errors.Is(err, ErrBreakerOpen):
		return "rejected"
	}
	return "error"
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	m.Operations.WithLabelValues(op, Result(err)).Inc()
	m.Duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// MeteredStore records a count and a latency for every operation.
type MeteredStore struct {
	next    kv.Store
	metrics *Metrics
}

// WithMetrics wraps next.
func WithMetrics(next kv.Store, m *Metrics) *MeteredStore {
	return &MeteredStore{next: next, metrics: m}
}

func (s *MeteredStore) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	start := time.Now()
	e, err := s.next.Get(ctx, key)
	s.metrics.observe(opGet, start, err)
	return e, err
}

func (s *MeteredStore) Commit(ctx context.Context, op *kv.AtomicOperation) (string, error) {
	start := time.Now()
	ver, err := s.next.Commit(ctx, op)
	s.metrics.observe(opCommit, start, err)
	return ver, err
}

// List times the iterator from creation until it is exhausted or closed.
func (s *MeteredStore) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) kv.Iterator {
	start := time.Now()
	return &hookIterator{
		Iterator: s.next.List(ctx, sel, opts),
		onEnd: func(n int, err error) {
			s.metrics.Entries.Add(float64(n))
			s.metrics.observe(opList, start, err)
		},
	}
}

func (s *MeteredStore) Delete(ctx context.Context, key kv.Key) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.metrics.observe(opDelete, start, err)
	return err
}

func (s *MeteredStore) Close() error {
	return s.next.Close()
}

// hookIterator calls onEnd once, when iteration stops or the iterator is
// closed, with the number of entries yielded.
type hookIterator struct {
	kv.Iterator
	onEnd func(n int, err error)
	n     int
	ended bool
}

func (it *hookIterator) Next() bool {
	if it.Iterator.Next() {
		it.n++
		return true
	}
	it.end()
	return false
}

func (it *hookIterator) Close() error {
	err := it.Iterator.Close()
	it.end()
	return err
}

func (it *hookIterator) end() {
	if it.ended {
		return
	}
	it.ended = true
	it.onEnd(it.n, it.Iterator.Err())
}
