package store

import (
	"context"
	"fmt"
)

// PurgeFunc deletes every child of the given parent and returns how many were
// deleted. It must be safe to run again after a partial failure.
type PurgeFunc func(ctx context.Context, parentID string) (int, error)

// Relationship defines a parent-child relationship for cascade operations.
type Relationship struct {
	// ParentType is the parent entity type (e.g., "brand").
	ParentType string

	// ChildType is the child entity type (e.g., "product").
	ChildType string

	// Purge deletes the children of one parent.
	Purge PurgeFunc
}

// Registry holds all known entity relationships for cascade operations.
type Registry struct {
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byParent:      make(map[string][]Relationship),
	}
}

// Register adds a relationship to the registry.
func (r *Registry) Register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.ParentType] = append(r.byParent[rel.ParentType], rel)
}

// ChildrenOf returns all child relationships for a given parent type.
func (r *Registry) ChildrenOf(parentType string) []Relationship {
	return r.byParent[parentType]
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren returns true if the parent type has any registered child relationships.
func (r *Registry) HasChildren(parentType string) bool {
	return len(r.byParent[parentType]) > 0
}

// Purge runs every purge registered for parentType in registration order and
// returns the number of deleted children per child type. It stops at the
// first error; the counts gathered so far are returned with it.
func (r *Registry) Purge(ctx context.Context, parentType, parentID string) (map[string]int, error) {
	counts := make(map[string]int)
	for _, rel := range r.byParent[parentType] {
		n, err := rel.Purge(ctx, parentID)
		counts[rel.ChildType] += n
		if err != nil {
			return counts, fmt.Errorf("purge %s of %s %s: %w", rel.ChildType, parentType, parentID, err)
		}
	}
	return counts, nil
}

// PurgeQuery returns a PurgeFunc that purges the entities of repo selected by
// build(parentID).
func PurgeQuery[T any](repo *Repository[T], build func(parentID string) Query) PurgeFunc {
	return func(ctx context.Context, parentID string) (int, error) {
		return repo.Purge(ctx, build(parentID))
	}
}

// PurgeByID returns a PurgeFunc that deletes the single entity of repo whose
// primary path is (parentID).
func PurgeByID[T any](repo *Repository[T]) PurgeFunc {
	return func(ctx context.Context, parentID string) (int, error) {
		_, err := repo.Get(ctx, parentID)
		if err != nil {
			if isNotFound(err) {
				return 0, nil
			}
			return 0, err
		}
		if err := repo.DeleteByID(ctx, parentID); err != nil {
			return 0, err
		}
		return 1, nil
	}
}

// PurgeList returns a PurgeFunc that clears the item list owned by parentID.
func PurgeList[I any](list *ItemList[I]) PurgeFunc {
	return func(ctx context.Context, parentID string) (int, error) {
		items, err := list.Get(ctx, parentID)
		if err != nil {
			return 0, err
		}
		if err := list.Clear(ctx, parentID); err != nil {
			return 0, err
		}
		if len(items) == 0 {
			return 0, nil
		}
		return 1, nil
	}
}
