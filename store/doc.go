// Package store keeps typed entities in an ordered key-value store together
// with their secondary indexes.
//
// Every entity is written under a key-set: its primary key and one key per
// declared index. All keys of a key-set are created, updated and deleted in a
// single atomic commit, so a reader never sees an index entry without its
// primary record or the other way round.
//
// # Key scheme
//
//	primary    (type, id)                 e.g. (product, 01J...)
//	owned      (type, owner, id)          e.g. (address, <userId>, 01J...)
//	secondary  (type_by_dim, value, id)   e.g. (product_by_brand, <brandId>, 01J...)
//
// Entity types are described with a [Schema]; a [Repository] serves one type:
//
//	products := store.NewRepository(s, store.Schema[Product]{
//	    Type: "product",
//	    ID:   func(p Product) string { return p.ID },
//	    Indexes: []store.Index[Product]{
//	        {Name: "brand", Value: func(p Product) string { return p.BrandID }},
//	    },
//	})
//
// # Writes
//
//   - Create checks that every key is absent and fails with [ErrAlreadyExists]
//     otherwise, writing nothing.
//   - Update overwrites the key-set without checks.
//   - Replace also deletes index keys the previous value had.
//   - Delete and DeleteByID remove the whole key-set.
//
// # Lists
//
// List scans the primary keys (optionally one owner's) or one index value and
// pages with an opaque cursor. A cursor is only valid for the query that
// produced it; anything else yields [ErrMalformedCursor].
//
// # Errors
//
//   - [ErrNotFound] - entity doesn't exist
//   - [ErrAlreadyExists] - a key of a new entity is taken
//   - [ErrTransactionFailed] - the backend failed; the cause is wrapped too
//   - [ErrMalformedCursor] - cursor does not decode for this query
//   - [ErrInvalidEntity] - validation failed or key fields are empty
//   - [ErrInvalidQuery] - lookup path or list query does not fit the schema
package store
