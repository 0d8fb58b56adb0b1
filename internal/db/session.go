package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Querier is the set of statements callers may run against the session.
// Both *Session and an acquired *Handle implement it.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Get(ctx context.Context, dest any, query string, args ...any) error
	Select(ctx context.Context, dest any, query string, args ...any) error
	Dialect() Dialect
}

// Session is the single live connection to the backend.
// It is not safe for concurrent statements; share it through a Guard.
type Session struct {
	db      *sqlx.DB
	dialect Dialect
	obs     *observer
}

var _ Querier = (*Session)(nil)

// NewSession wraps db and pins its pool to one connection, created once
// and never recycled for age or idleness.
func NewSession(db *sql.DB, dialect Dialect, opts ...Option) *Session {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	s := &Session{
		db:      sqlx.NewDb(db, dialect.DriverName()),
		dialect: dialect,
		obs:     newObserver(),
	}
	for _, opt := range opts {
		opt(s.obs)
	}
	return s
}

// Open opens dsn with the dialect's driver and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Session, error) {
	sqlDB, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name(), err)
	}

	s := NewSession(sqlDB, dialect, opts...)
	if err := s.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) Dialect() Dialect { return s.dialect }

// Ping establishes the connection if needed and checks it is alive.
func (s *Session) Ping(ctx context.Context) error {
	return s.instrument(ctx, "ping", "", func(ctx context.Context) error {
		if err := s.db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping %s: %w", s.dialect.Name(), err)
		}
		return nil
	})
}

func (s *Session) Close() error {
	return s.db.Close()
}

func (s *Session) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := s.instrument(ctx, "exec", query, func(ctx context.Context) error {
		var err error
		result, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

// Get scans a single row into dest. It returns sql.ErrNoRows when the
// statement yields nothing.
func (s *Session) Get(ctx context.Context, dest any, query string, args ...any) error {
	return s.instrument(ctx, "get", query, func(ctx context.Context) error {
		return s.db.GetContext(ctx, dest, query, args...)
	})
}

// Select scans every row into the slice dest points to.
func (s *Session) Select(ctx context.Context, dest any, query string, args ...any) error {
	return s.instrument(ctx, "select", query, func(ctx context.Context) error {
		return s.db.SelectContext(ctx, dest, query, args...)
	})
}

func (s *Session) instrument(ctx context.Context, operation, query string, fn func(context.Context) error) error {
	return s.obs.statement(ctx, s.dialect.Name(), operation, query, fn)
}
