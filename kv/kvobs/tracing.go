package kvobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jacentio/storefront/kv"
)

// TracedStore starts a span for every operation.
type TracedStore struct {
	next   kv.Store
	tracer trace.Tracer
}

// WithTracing wraps next.
func WithTracing(next kv.Store, tracer trace.Tracer) *TracedStore {
	return &TracedStore{next: next, tracer: tracer}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *TracedStore) Get(ctx context.Context, key kv.Key) (kv.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "kv.Get",
		trace.WithAttributes(attribute.String("kv.key", key.String())),
	)
	e, err := s.next.Get(ctx, key)
	span.SetAttributes(attribute.Bool("kv.found", e.Exists()))
	endSpan(span, err)
	return e, err
}

func (s *TracedStore) Commit(ctx context.Context, op *kv.AtomicOperation) (string, error) {
	ctx, span := s.tracer.Start(ctx, "kv.Commit",
		trace.WithAttributes(
			attribute.Int("kv.checks", len(op.Checks())),
			attribute.Int("kv.mutations", len(op.Mutations())),
		),
	)
	ver, err := s.next.Commit(ctx, op)
	if err == nil {
		span.SetAttributes(attribute.String("kv.versionstamp", ver))
	}
	endSpan(span, err)
	return ver, err
}

// List keeps its span open until the iterator stops.
func (s *TracedStore) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) kv.Iterator {
	ctx, span := s.tracer.Start(ctx, "kv.List",
		trace.WithAttributes(
			attribute.String("kv.prefix", sel.Prefix.String()),
			attribute.Int("kv.limit", opts.Limit),
		),
	)
	return &hookIterator{
		Iterator: s.next.List(ctx, sel, opts),
		onEnd: func(n int, err error) {
			span.SetAttributes(attribute.Int("kv.entries", n))
			endSpan(span, err)
		},
	}
}

func (s *TracedStore) Delete(ctx context.Context, key kv.Key) error {
	ctx, span := s.tracer.Start(ctx, "kv.Delete",
		trace.WithAttributes(attribute.String("kv.key", key.String())),
	)
	err := s.next.Delete(ctx, key)
	endSpan(span, err)
	return err
}

func (s *TracedStore) Close() error {
	return s.next.Close()
}
