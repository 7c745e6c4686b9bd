package database

import (
	_ "embed"
)

// schemaSQL is shared by both backends; it sticks to the SQL subset that
// Postgres and SQLite agree on.
//
//go:embed schema.sql
var schemaSQL string
