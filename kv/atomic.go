package kv

import "github.com/jacentio/storefront/internal/keycodec"

// MutationType identifies what a Mutation does.
type MutationType int

const (
	// MutationSet writes a value.
	MutationSet MutationType = iota
	// MutationDelete removes a key.
	MutationDelete
)

// Check asserts the versionstamp a key holds at commit time. An empty
// Versionstamp asserts the key is absent.
type Check struct {
	Key          Key
	Versionstamp string
}

// Mutation is a single write inside an AtomicOperation.
type Mutation struct {
	Type  MutationType
	Key   Key
	Value []byte
}

// AtomicOperation collects checks and mutations committed together.
type AtomicOperation struct {
	checks    []Check
	mutations []Mutation
}

// Atomic starts an empty operation.
func Atomic() *AtomicOperation {
	return &AtomicOperation{}
}

// Check adds versionstamp assertions.
func (a *AtomicOperation) Check(checks ...Check) *AtomicOperation {
	a.checks = append(a.checks, checks...)
	return a
}

// Set adds a write of value at key.
func (a *AtomicOperation) Set(key Key, value []byte) *AtomicOperation {
	a.mutations = append(a.mutations, Mutation{Type: MutationSet, Key: key, Value: value})
	return a
}

// Delete adds a removal of key.
func (a *AtomicOperation) Delete(key Key) *AtomicOperation {
	a.mutations = append(a.mutations, Mutation{Type: MutationDelete, Key: key})
	return a
}

// Checks returns the collected checks.
func (a *AtomicOperation) Checks() []Check {
	return a.checks
}

// Mutations returns the collected mutations. When a key is mutated more than
// once, the last mutation wins.
func (a *AtomicOperation) Mutations() []Mutation {
	return a.mutations
}

// Keys returns every distinct key the operation touches, in first-seen order.
func (a *AtomicOperation) Keys() []Key {
	seen := make(map[string]bool)
	var keys []Key
	add := func(k Key) {
		id := string(keycodec.Pack(k))
		if !seen[id] {
			seen[id] = true
			keys = append(keys, k)
		}
	}
	for _, c := range a.checks {
		add(c.Key)
	}
	for _, m := range a.mutations {
		add(m.Key)
	}
	return keys
}
