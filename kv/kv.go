package kv

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jacentio/storefront/internal/keycodec"
)

// Key is an ordered tuple of string segments.
type Key []string

// String renders the key for logs.
func (k Key) String() string {
	return "[" + strings.Join(k, ", ") + "]"
}

// Equal reports whether both keys hold the same segments.
func (k Key) Equal(other Key) bool {
	return slices.Equal(k, other)
}

// Entry is a stored value. An entry whose Versionstamp is empty does not exist.
type Entry struct {
	Key          Key
	Value        []byte
	Versionstamp string
}

// Exists reports whether the entry was found.
func (e Entry) Exists() bool {
	return e.Versionstamp != ""
}

// Selector chooses the keys a List call visits.
type Selector struct {
	// Prefix restricts the scan to keys strictly below it.
	Prefix Key

	// After, when set, starts the scan after this key. It must lie below Prefix.
	After Key
}

// ListOptions bounds a List call.
type ListOptions struct {
	// Limit is the maximum number of entries the iterator yields (0 = no limit).
	Limit int

	// BatchSize is how many entries a backend fetches per round trip.
	// Default: 100
	BatchSize int
}

// DefaultBatchSize is used when ListOptions.BatchSize is unset.
const DefaultBatchSize = 100

// Batch returns the effective batch size, never larger than the remaining limit.
func (o ListOptions) Batch(yielded int) int {
	n := o.BatchSize
	if n <= 0 {
		n = DefaultBatchSize
	}
	if o.Limit > 0 && o.Limit-yielded < n {
		n = o.Limit - yielded
	}
	return n
}

// Iterator walks entries in ascending key order. It fetches lazily and is
// forward-only.
type Iterator interface {
	// Next advances to the next entry and reports whether there is one.
	Next() bool

	// Entry returns the current entry.
	Entry() Entry

	// Err returns the error that stopped iteration, if any.
	Err() error

	// Close releases resources held by the iterator.
	Close() error
}

// Store is the ordered key-value primitive.
type Store interface {
	// Get reads one key. A missing key yields an Entry with an empty
	// Versionstamp and a nil error.
	Get(ctx context.Context, key Key) (Entry, error)

	// Commit applies op atomically and returns the versionstamp of the
	// written entries. If any check fails it returns ErrCheckFailed and
	// nothing is written.
	Commit(ctx context.Context, op *AtomicOperation) (string, error)

	// List returns an iterator over the keys selected by sel.
	List(ctx context.Context, sel Selector, opts ListOptions) Iterator

	// Delete removes a single key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// Close releases the store.
	Close() error
}

// Bounds validates sel and returns the packed exclusive bounds of the scan.
func (s Selector) Bounds() (after, end []byte, err error) {
	after, end = keycodec.PrefixRange(s.Prefix)
	if s.After != nil {
		if len(s.After) <= len(s.Prefix) || !keycodec.HasPrefix(s.After, s.Prefix) {
			return nil, nil, fmt.Errorf("%w: list start %s is not below prefix %s", ErrInvalidKey, s.After, s.Prefix)
		}
		after = keycodec.Pack(s.After)
	}
	return after, end, nil
}
