package store

import (
	"fmt"

	"github.com/jacentio/storefront/kv"
)

// Index declares a secondary index over one dimension of T.
type Index[T any] struct {
	// Name is the dimension name. The index keys live under "<type>_by_<name>".
	Name string

	// Value returns the dimension value of an entity. An empty value means the
	// entity is not indexed under this dimension.
	Value func(T) string
}

// Schema describes how entities of type T map onto keys.
//
// Primary key:   (Type, ID)            or (Type, Owner, ID) when Owner is set
// Secondary key: (Type_by_Name, Value, ID)
type Schema[T any] struct {
	// Type is the entity type name and the first segment of its primary key.
	Type string

	// ID returns the entity's identity.
	ID func(T) string

	// Owner, when set, scopes the primary key to the owning entity.
	Owner func(T) string

	Indexes []Index[T]
}

// IndexType returns the first key segment of the named index.
func (s Schema[T]) IndexType(name string) string {
	return s.Type + "_by_" + name
}

// PrimaryKey returns the primary key of v.
func (s Schema[T]) PrimaryKey(v T) (kv.Key, error) {
	id := s.ID(v)
	if id == "" {
		return nil, fmt.Errorf("%w: %s has no id", ErrInvalidEntity, s.Type)
	}
	if s.Owner == nil {
		return kv.Key{s.Type, id}, nil
	}
	owner := s.Owner(v)
	if owner == "" {
		return nil, fmt.Errorf("%w: %s %s has no owner", ErrInvalidEntity, s.Type, id)
	}
	return kv.Key{s.Type, owner, id}, nil
}

// KeySet returns every key v is stored under: the primary key first, then one
// key per index with a non-empty value, in declaration order.
func (s Schema[T]) KeySet(v T) ([]kv.Key, error) {
	primary, err := s.PrimaryKey(v)
	if err != nil {
		return nil, err
	}
	keys := make([]kv.Key, 0, 1+len(s.Indexes))
	keys = append(keys, primary)
	id := s.ID(v)
	for _, idx := range s.Indexes {
		if value := idx.Value(v); value != "" {
			keys = append(keys, kv.Key{s.IndexType(idx.Name), value, id})
		}
	}
	return keys, nil
}

// pathKey builds a primary key from its trailing segments: (id) or
// (owner, id) for owned types.
func (s Schema[T]) pathKey(path ...string) (kv.Key, error) {
	want := 1
	if s.Owner != nil {
		want = 2
	}
	if len(path) != want {
		return nil, fmt.Errorf("%w: %s is addressed by %d segments, got %d", ErrInvalidQuery, s.Type, want, len(path))
	}
	for _, p := range path {
		if p == "" {
			return nil, fmt.Errorf("%w: empty segment in %s key", ErrInvalidQuery, s.Type)
		}
	}
	return append(kv.Key{s.Type}, path...), nil
}

func (s Schema[T]) hasIndex(name string) bool {
	for _, idx := range s.Indexes {
		if idx.Name == name {
			return true
		}
	}
	return false
}

// Query selects entities of one type for List and Purge.
type Query struct {
	// Index names the secondary index to scan. Empty scans primary keys.
	Index string

	// Value is the index dimension value. Required with Index.
	Value string

	// Owner scopes a primary scan of an owned type to one owner.
	Owner string

	// Cursor continues a previous page. Empty starts at the beginning.
	Cursor string

	// Limit is the page size (0 = all, subject to Config.MaxPageSize).
	Limit int
}

// prefix returns the key prefix q scans.
func (s Schema[T]) prefix(q Query) (kv.Key, error) {
	if q.Index != "" {
		if !s.hasIndex(q.Index) {
			return nil, fmt.Errorf("%w: %s has no index %q", ErrInvalidQuery, s.Type, q.Index)
		}
		if q.Value == "" {
			return nil, fmt.Errorf("%w: index %s needs a value", ErrInvalidQuery, s.IndexType(q.Index))
		}
		return kv.Key{s.IndexType(q.Index), q.Value}, nil
	}
	if q.Value != "" {
		return nil, fmt.Errorf("%w: value without an index", ErrInvalidQuery)
	}
	if q.Owner != "" {
		if s.Owner == nil {
			return nil, fmt.Errorf("%w: %s is not owned", ErrInvalidQuery, s.Type)
		}
		return kv.Key{s.Type, q.Owner}, nil
	}
	return kv.Key{s.Type}, nil
}

// Page is one page of a list query.
type Page[T any] struct {
	Items []T

	// Cursor fetches the next page. Empty when there are no more entries.
	Cursor string
}
