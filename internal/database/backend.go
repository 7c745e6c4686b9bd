package database

import (
	"context"
)

type IsolationLevel string

const (
	IsolationDefault        IsolationLevel = ""
	IsolationReadCommitted  IsolationLevel = "read committed"
	IsolationRepeatableRead IsolationLevel = "repeatable read"
	IsolationSerializable   IsolationLevel = "serializable"
)

// Capabilities describes what a storage backend honors. The coordinator
// consults it instead of switching on the backend's name.
type Capabilities struct {
	SupportsIsolationLevels bool
	DefaultIsolation        IsolationLevel
}

type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}

type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Tx is the slice of a storage transaction the ledger and repositories use.
// Queries use $N placeholders, numbered in order of first appearance.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Backend interface {
	Name() string
	Capabilities() Capabilities
	// Begin starts a transaction. A nil opts means the backend default.
	Begin(ctx context.Context, opts *TxOptions) (Tx, error)
	// ClassifyError wraps driver-level write conflicts with ErrConflict and
	// connectivity failures with ErrStorageUnavailable; anything else is
	// returned unchanged.
	ClassifyError(err error) error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}
