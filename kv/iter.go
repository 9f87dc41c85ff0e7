package kv

import (
	"context"
	"iter"
)

// FetchFunc reads up to n entries strictly after the given key, in ascending
// order. A nil after means the start of the selection.
type FetchFunc func(ctx context.Context, after Key, n int) ([]Entry, error)

// batchIterator pages through a selection with a FetchFunc.
type batchIterator struct {
	ctx     context.Context
	fetch   FetchFunc
	opts    ListOptions
	after   Key
	buf     []Entry
	cur     Entry
	yielded int
	done    bool
	err     error
}

// NewBatchIterator returns an Iterator that calls fetch lazily, one batch at a
// time, stopping at opts.Limit.
func NewBatchIterator(ctx context.Context, after Key, opts ListOptions, fetch FetchFunc) Iterator {
	return &batchIterator{ctx: ctx, fetch: fetch, opts: opts, after: after}
}

func (it *batchIterator) Next() bool {
	if it.err != nil || (it.opts.Limit > 0 && it.yielded >= it.opts.Limit) {
		return false
	}
	if len(it.buf) == 0 {
		if it.done {
			return false
		}
		n := it.opts.Batch(it.yielded)
		entries, err := it.fetch(it.ctx, it.after, n)
		if err != nil {
			it.err = err
			return false
		}
		if len(entries) < n {
			it.done = true
		}
		if len(entries) == 0 {
			return false
		}
		it.buf = entries
		it.after = entries[len(entries)-1].Key
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	it.yielded++
	return true
}

func (it *batchIterator) Entry() Entry { return it.cur }
func (it *batchIterator) Err() error   { return it.err }
func (it *batchIterator) Close() error { it.buf = nil; it.done = true; return nil }

// errIterator yields nothing and reports err.
type errIterator struct{ err error }

// ErrIterator returns an Iterator that yields no entries and reports err.
func ErrIterator(err error) Iterator { return errIterator{err: err} }

func (e errIterator) Next() bool   { return false }
func (e errIterator) Entry() Entry { return Entry{} }
func (e errIterator) Err() error   { return e.err }
func (e errIterator) Close() error { return nil }

// All adapts it to a range-over-func sequence. Iteration stops at the first
// error, which is yielded with a zero Entry. The iterator is closed when the
// sequence ends.
func All(it Iterator) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		defer it.Close()
		for it.Next() {
			if !yield(it.Entry(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Entry{}, err)
		}
	}
}

// Collect drains it into a slice.
func Collect(it Iterator) ([]Entry, error) {
	var entries []Entry
	for e, err := range All(it) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
