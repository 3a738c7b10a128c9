package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrPersistence wraps storage-layer faults. A failed operation left
	// no partial writes behind and can be retried.
	ErrPersistence = errors.New("store: persistence failure")

	// ErrUnknownDirection is returned for an unrecognised direction name.
	ErrUnknownDirection = errors.New("store: unknown direction")
)

// persistErr tags err as a storage fault, keeping the cause inspectable.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
