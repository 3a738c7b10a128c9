package mentormatch

import (
	"errors"

	"github.com/brunobiangulo/mentormatch/store"
)

var (
	// ErrNotFound is returned when a subject, entity or candidate edge
	// does not exist.
	ErrNotFound = store.ErrNotFound

	// ErrPersistence is returned for storage faults. The failed operation
	// wrote nothing and is safe to retry.
	ErrPersistence = store.ErrPersistence

	// ErrUnknownDirection is returned for an unrecognised direction name.
	ErrUnknownDirection = store.ErrUnknownDirection

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("mentormatch: invalid configuration")

	// ErrInvalidInput is returned when an entity fails validation.
	ErrInvalidInput = errors.New("mentormatch: invalid input")

	// ErrEmbeddingFailed is returned when embedding generation fails.
	ErrEmbeddingFailed = errors.New("mentormatch: embedding generation failed")

	// ErrImportFailed is returned when a workbook cannot be read at all.
	ErrImportFailed = errors.New("mentormatch: import failed")
)
