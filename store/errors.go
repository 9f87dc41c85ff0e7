package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity doesn't exist.
	ErrNotFound = errors.New("storefront: entity not found")

	// ErrAlreadyExists is returned when any key of a new entity is already taken.
	ErrAlreadyExists = errors.New("storefront: entity already exists")

	// ErrTransactionFailed is returned when the backend could not apply a commit
	// or serve a read. The backend's error is wrapped alongside it.
	ErrTransactionFailed = errors.New("storefront: transaction failed")

	// ErrMalformedCursor is returned when a pagination cursor cannot be decoded
	// or does not belong to the listed prefix.
	ErrMalformedCursor = errors.New("storefront: malformed cursor")

	// ErrInvalidEntity is returned when an entity fails validation or lacks the
	// fields its keys are built from.
	ErrInvalidEntity = errors.New("storefront: invalid entity")

	// ErrInvalidQuery is returned for lookups and list queries the schema
	// cannot serve.
	ErrInvalidQuery = errors.New("storefront: invalid query")
)

// transactionFailure wraps a backend error so that errors.Is matches both
// ErrTransactionFailed and the cause.
func transactionFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrTransactionFailed, op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
