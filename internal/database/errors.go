package database

import (
	"errors"
)

var (
	// ErrConflict is a storage-level write conflict (serialization failure,
	// deadlock, unique violation, busy single-writer store).
	ErrConflict = errors.New("storage write conflict")

	// ErrStorageUnavailable is fatal for the in-flight operation; nothing
	// was written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNoTransaction is returned when transaction-scoped work runs
	// outside WithTransaction.
	ErrNoTransaction = errors.New("no active transaction")
)
