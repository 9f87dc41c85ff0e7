// Package kv defines the ordered key-value primitive the storefront data
// layer is built on.
//
// A [Store] maps tuple keys to opaque byte values. Every stored entry carries
// a versionstamp that changes on each write. Writes go through an
// [AtomicOperation], which bundles versionstamp checks with sets and deletes;
// either every effect of a commit becomes visible or none does.
//
// # Backends
//
//   - memkv: in-process, ephemeral; used by tests and tooling
//   - sqlitekv: a single SQLite file; the local development default
//   - dynamokv: one DynamoDB table, commits via TransactWriteItems
//   - rediskv: Redis, commits via WATCH/MULTI/EXEC
//
// # Errors
//
//   - [ErrCheckFailed] - a commit check did not hold; nothing was written
//   - [ErrConflict] - a concurrent writer aborted the commit; nothing was written
//   - [ErrUnsupportedPrefix] - the backend cannot scan the requested prefix
//   - [ErrInvalidKey] - the key cannot be stored by the backend
//   - [ErrClosed] - the store was closed
package kv
