package repositories

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
)

var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when optimistic locking fails
var ErrVersionConflict = errors.New("version conflict: entry was modified by another client")

var (
	pgxNoRows = pgx.ErrNoRows
	sqlNoRows = sql.ErrNoRows
)
