// Package db owns the one database session the service shares across all
// requests, and the Guard that serializes access to it.
//
// Dialect hides the differences between the two backends userd runs on:
//   - PostgreSQL, the production backend, reached through the pgx driver
//   - SQLite, used by the tests and for local runs without a server
//
// Usage example:
//
//	session, err := db.Open(ctx, db.PostgreSQL, dsn, db.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	guard := db.NewGuard(session)
package db

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var (
	PostgreSQL = PostgreSQLDialect{}
	SQLite     = SQLiteDialect{}
)

// Dialect abstracts the backend-specific parts of the SQL userd issues.
//
// Main differences handled:
//   - Placeholder format: SQLite uses ?, PostgreSQL uses $1, $2
//   - Auto-assigned integer keys: SERIAL vs INTEGER ... AUTOINCREMENT
//   - The database/sql driver registered for the backend
type Dialect interface {
	// Name returns the database system name.
	// Used as the db.system attribute on spans and metrics.
	Name() string

	// DriverName returns the database/sql driver the dialect is opened with.
	DriverName() string

	// PlaceholderFormat returns the format squirrel renders bind
	// parameters in.
	PlaceholderFormat() sq.PlaceholderFormat

	// SerialPrimaryKey returns the column definition of an integer
	// primary key assigned by the database on insert.
	SerialPrimaryKey() string
}

// DialectFor maps a driver name, as given on the command line, to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres", "postgresql":
		return PostgreSQL, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", driver)
	}
}

// PostgreSQLDialect implements Dialect for PostgreSQL through
// github.com/jackc/pgx/v5/stdlib.
type PostgreSQLDialect struct{}

// Name returns the PostgreSQL dialect name.
func (PostgreSQLDialect) Name() string { return "postgresql" }

// DriverName returns the driver name pgx registers with database/sql.
func (PostgreSQLDialect) DriverName() string { return "pgx" }

// PlaceholderFormat returns PostgreSQL's placeholder format ($1, $2, ...).
func (PostgreSQLDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Dollar }

// SerialPrimaryKey returns a SERIAL primary key.
func (PostgreSQLDialect) SerialPrimaryKey() string { return "SERIAL PRIMARY KEY" }

// SQLiteDialect implements Dialect for SQLite through
// github.com/mattn/go-sqlite3.
//
// Note:
//   - RETURNING requires SQLite 3.35+, which go-sqlite3 bundles
//   - An in-memory database lives only as long as its one connection,
//     which the single-connection Session keeps open
type SQLiteDialect struct{}

// Name returns the SQLite dialect name.
func (SQLiteDialect) Name() string { return "sqlite" }

// DriverName returns the driver name go-sqlite3 registers with database/sql.
func (SQLiteDialect) DriverName() string { return "sqlite3" }

// PlaceholderFormat returns SQLite's placeholder format (?).
func (SQLiteDialect) PlaceholderFormat() sq.PlaceholderFormat { return sq.Question }

// SerialPrimaryKey returns an AUTOINCREMENT primary key, so ids are never
// reused after a delete, matching SERIAL.
func (SQLiteDialect) SerialPrimaryKey() string { return "INTEGER PRIMARY KEY AUTOINCREMENT" }
