package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLiteBackend is a single-writer embedded store. It has one fixed
// isolation level, so Capabilities reports no isolation selection and the
// coordinator never passes one.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path. A "sqlite://"
// prefix is accepted so DATABASE_URL can carry either backend.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	path = strings.TrimPrefix(path, "sqlite://")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return &SQLiteBackend{db: db}, nil
}

func IsSQLiteURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, "sqlite://") || strings.HasPrefix(databaseURL, "file:")
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Capabilities() Capabilities {
	return Capabilities{
		SupportsIsolationLevels: false,
		DefaultIsolation:        IsolationSerializable,
	}
}

func (b *SQLiteBackend) Begin(ctx context.Context, opts *TxOptions) (Tx, error) {
	var sqlOpts *sql.TxOptions
	if opts != nil {
		sqlOpts = &sql.TxOptions{ReadOnly: opts.ReadOnly}
	}
	tx, err := b.db.BeginTx(ctx, sqlOpts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (b *SQLiteBackend) ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrStorageUnavailable) {
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case sqlite3.ErrConstraint:
			if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return fmt.Errorf("%w: %w", ErrConflict, err)
			}
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull:
			return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return err
	}

	if errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

func (b *SQLiteBackend) Migrate(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() {
	b.db.Close()
}

// SQLite numbers "$N" parameters by first appearance rather than by N;
// "?N" is its explicit positional form.
var dollarParam = regexp.MustCompile(`\$(\d+)`)

func rebind(query string) string {
	return dollarParam.ReplaceAllString(query, "?$1")
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := t.tx.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (t *sqlTx) QueryRow(ctx context.Context, query string, args ...any) Row {
	return t.tx.QueryRowContext(ctx, rebind(query), args...)
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := t.tx.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{Rows: rows}, nil
}

func (t *sqlTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// sqlRows drops the error from Close to match pgx.Rows; Err reports
// iteration failures.
type sqlRows struct {
	*sql.Rows
}

func (r *sqlRows) Close() {
	r.Rows.Close()
}
