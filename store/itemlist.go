package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/jacentio/storefront/kv"
)

// ItemList keeps one list of items per owner under (Type, owner), with no
// secondary index. Carts and wishlists are item lists.
//
// By default Add and Remove are a plain read-modify-write, so two concurrent
// updates of the same owner's list can lose one of them. A positive
// Config.CompareAndSwapRetries, or WithCompareAndSwap, guards each write with
// the versionstamp read and retries on conflict.
type ItemList[I any] struct {
	store *Store
	typ   string
	id    func(I) string
	merge func(existing, added I) I

	maxRetries uint64
	backoff    time.Duration
	logger     *zap.Logger
}

// NewItemList creates an item list. id identifies an item within a list.
// merge combines an added item with an existing one of the same id; when nil
// the existing item is kept unchanged.
func NewItemList[I any](s *Store, typ string, id func(I) string, merge func(existing, added I) I) *ItemList[I] {
	return &ItemList[I]{
		store:      s,
		typ:        typ,
		id:         id,
		merge:      merge,
		maxRetries: s.config.CompareAndSwapRetries,
		backoff:    10 * time.Millisecond,
		logger:     s.logger.With(zap.String("entity_type", typ)),
	}
}

// WithCompareAndSwap returns a copy of l whose updates are compare-and-swap
// with up to maxRetries retries on Fibonacci backoff.
func (l *ItemList[I]) WithCompareAndSwap(maxRetries uint64, backoff time.Duration) *ItemList[I] {
	c := *l
	c.maxRetries = maxRetries
	if backoff > 0 {
		c.backoff = backoff
	}
	return &c
}

// Type returns the list's key type.
func (l *ItemList[I]) Type() string {
	return l.typ
}

func (l *ItemList[I]) key(owner string) (kv.Key, error) {
	if owner == "" {
		return nil, fmt.Errorf("%w: %s needs an owner", ErrInvalidQuery, l.typ)
	}
	return kv.Key{l.typ, owner}, nil
}

func (l *ItemList[I]) read(ctx context.Context, key kv.Key) ([]I, string, error) {
	e, err := l.store.kv.Get(ctx, key)
	if err != nil {
		return nil, "", transactionFailure("get "+l.typ, err)
	}
	items := []I{}
	if !e.Exists() {
		return items, "", nil
	}
	if err := l.store.codec.Unmarshal(e.Value, &items); err != nil {
		return nil, "", fmt.Errorf("decode %s at %s: %w", l.typ, key, err)
	}
	return items, e.Versionstamp, nil
}

// Get returns the owner's items. An absent list is empty, not an error.
func (l *ItemList[I]) Get(ctx context.Context, owner string) ([]I, error) {
	key, err := l.key(owner)
	if err != nil {
		return nil, err
	}
	items, _, err := l.read(ctx, key)
	return items, err
}

// Set replaces the owner's items unconditionally.
func (l *ItemList[I]) Set(ctx context.Context, owner string, items []I) error {
	key, err := l.key(owner)
	if err != nil {
		return err
	}
	return l.write(ctx, key, items, nil)
}

// Clear removes the owner's list.
func (l *ItemList[I]) Clear(ctx context.Context, owner string) error {
	key, err := l.key(owner)
	if err != nil {
		return err
	}
	if _, err := l.store.kv.Commit(ctx, kv.Atomic().Delete(key)); err != nil {
		return transactionFailure("clear "+l.typ, err)
	}
	l.logger.Debug("item list cleared", zap.String("owner", owner))
	return nil
}

// Add merges item into the line with the same id, or appends it.
func (l *ItemList[I]) Add(ctx context.Context, owner string, item I) ([]I, error) {
	return l.modify(ctx, owner, func(items []I) []I {
		id := l.id(item)
		for i := range items {
			if l.id(items[i]) == id {
				if l.merge != nil {
					items[i] = l.merge(items[i], item)
				}
				return items
			}
		}
		return append(items, item)
	})
}

// Remove drops the line with the given id. Removing a missing id is not an
// error.
func (l *ItemList[I]) Remove(ctx context.Context, owner, itemID string) ([]I, error) {
	return l.modify(ctx, owner, func(items []I) []I {
		kept := items[:0]
		for _, it := range items {
			if l.id(it) != itemID {
				kept = append(kept, it)
			}
		}
		return kept
	})
}

func (l *ItemList[I]) modify(ctx context.Context, owner string, fn func([]I) []I) ([]I, error) {
	key, err := l.key(owner)
	if err != nil {
		return nil, err
	}

	if l.maxRetries == 0 {
		items, _, err := l.read(ctx, key)
		if err != nil {
			return nil, err
		}
		items = fn(items)
		return items, l.write(ctx, key, items, nil)
	}

	var result []I
	b := retry.WithMaxRetries(l.maxRetries, retry.NewFibonacci(l.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		items, ver, err := l.read(ctx, key)
		if err != nil {
			return err
		}
		items = fn(items)
		err = l.write(ctx, key, items, &kv.Check{Key: key, Versionstamp: ver})
		if errors.Is(err, kv.ErrCheckFailed) || errors.Is(err, kv.ErrConflict) {
			l.logger.Debug("item list changed concurrently, retrying", zap.String("owner", owner))
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		result = items
		return nil
	})
	if err != nil {
		l.logger.Warn("item list update gave up", zap.String("owner", owner), zap.Error(err))
		return nil, err
	}
	return result, nil
}

func (l *ItemList[I]) write(ctx context.Context, key kv.Key, items []I, guard *kv.Check) error {
	if items == nil {
		items = []I{}
	}
	value, err := l.store.codec.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", l.typ, err)
	}
	op := kv.Atomic().Set(key, value)
	if guard != nil {
		op.Check(*guard)
	}
	if _, err := l.store.kv.Commit(ctx, op); err != nil {
		return transactionFailure("set "+l.typ, err)
	}
	l.logger.Debug("item list written", zap.Stringer("key", key), zap.Int("items", len(items)))
	return nil
}
