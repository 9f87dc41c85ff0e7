package kv

import "errors"

var (
	// ErrCheckFailed is returned by Commit when a versionstamp check did not hold.
	ErrCheckFailed = errors.New("kv: check failed")

	// ErrConflict is returned by Commit when the backend aborted because of a concurrent writer.
	ErrConflict = errors.New("kv: concurrent transaction conflict")

	// ErrUnsupportedPrefix is returned by List when the backend cannot scan the prefix.
	ErrUnsupportedPrefix = errors.New("kv: unsupported list prefix")

	// ErrInvalidKey is returned when a key cannot be stored by the backend.
	ErrInvalidKey = errors.New("kv: invalid key")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kv: store is closed")
)
