// Package memkv is an in-process kv.Store backed by a B-tree.
//
// Nothing is persisted. A single mutex serialises commits, which is what makes
// them atomic. Versionstamps are a monotonic counter rendered as 20 hex digits.
package memkv

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/jacentio/storefront/internal/keycodec"
	"github.com/jacentio/storefront/kv"
)

const degree = 32

type item struct {
	packed []byte
	key    kv.Key
	value  []byte
	ver    string
}

func less(a, b item) bool {
	return bytes.Compare(a.packed, b.packed) < 0
}

// Store is an in-memory kv.Store.
type Store struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[item]
	seq    uint64
	closed bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{tree: btree.NewG(degree, less)}
}

// Get reads one key.
func (s *Store) Get(_ context.Context, key kv.Key) (kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kv.Entry{}, kv.ErrClosed
	}
	it, ok := s.tree.Get(item{packed: keycodec.Pack(key)})
	if !ok {
		return kv.Entry{Key: key}, nil
	}
	return it.entry(), nil
}

// Commit applies op atomically.
func (s *Store) Commit(_ context.Context, op *kv.AtomicOperation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", kv.ErrClosed
	}

	for _, c := range op.Checks() {
		current := ""
		if it, ok := s.tree.Get(item{packed: keycodec.Pack(c.Key)}); ok {
			current = it.ver
		}
		if current != c.Versionstamp {
			return "", kv.ErrCheckFailed
		}
	}

	s.seq++
	ver := fmt.Sprintf("%020x", s.seq)
	for _, m := range op.Mutations() {
		packed := keycodec.Pack(m.Key)
		switch m.Type {
		case kv.MutationSet:
			s.tree.ReplaceOrInsert(item{
				packed: packed,
				key:    append(kv.Key(nil), m.Key...),
				value:  bytes.Clone(m.Value),
				ver:    ver,
			})
		case kv.MutationDelete:
			s.tree.Delete(item{packed: packed})
		}
	}
	return ver, nil
}

// List iterates the selection in ascending key order.
func (s *Store) List(ctx context.Context, sel kv.Selector, opts kv.ListOptions) kv.Iterator {
	start, end, err := sel.Bounds()
	if err != nil {
		return kv.ErrIterator(err)
	}
	return kv.NewBatchIterator(ctx, nil, opts, func(_ context.Context, after kv.Key, n int) ([]kv.Entry, error) {
		from := start
		if after != nil {
			from = keycodec.Pack(after)
		}
		return s.scan(from, end, n)
	})
}

func (s *Store) scan(after, end []byte, n int) ([]kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, kv.ErrClosed
	}
	var entries []kv.Entry
	s.tree.AscendRange(item{packed: after}, item{packed: end}, func(it item) bool {
		if bytes.Equal(it.packed, after) {
			return true
		}
		entries = append(entries, it.entry())
		return len(entries) < n
	})
	return entries, nil
}

// Delete removes a single key.
func (s *Store) Delete(_ context.Context, key kv.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	s.tree.Delete(item{packed: keycodec.Pack(key)})
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// Close drops every entry. Later calls fail with kv.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tree.Clear(false)
	return nil
}

func (it item) entry() kv.Entry {
	return kv.Entry{
		Key:          append(kv.Key(nil), it.key...),
		Value:        bytes.Clone(it.value),
		Versionstamp: it.ver,
	}
}
