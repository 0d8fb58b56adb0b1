package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/arllen133/userd/internal/db"
)

// ErrNotFound is returned when a statement scoped to one id matched no row.
var ErrNotFound = errors.New("users: record not found")

// Repository runs one statement per call against q. It holds no state of
// its own; build one per acquired handle.
//
// Usage example:
//
//	err := guard.Do(ctx, func(q db.Querier) error {
//	    return users.NewRepository(q).Create(ctx, user)
//	})
type Repository struct {
	q db.Querier
}

func NewRepository(q db.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) statement() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(r.q.Dialect().PlaceholderFormat())
}

// List returns every row of the table. The result is never nil.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	query, args, err := r.statement().Select("*").From(tableName).ToSql()
	if err != nil {
		return nil, err
	}

	list := make([]User, 0)
	if err := r.q.Select(ctx, &list, query, args...); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return list, nil
}

// Create inserts u and backfills the id the database assigned.
// Any id already set on u is ignored.
func (r *Repository) Create(ctx context.Context, u *User) error {
	cols, vals := insertRow(u)
	query, args, err := r.statement().
		Insert(tableName).
		Columns(cols...).
		Values(vals...).
		Suffix("RETURNING " + columnID).
		ToSql()
	if err != nil {
		return err
	}

	var id int64
	if err := r.q.Get(ctx, &id, query, args...); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = &id
	return nil
}

// Get returns the row with the given id, or ErrNotFound.
func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	query, args, err := r.statement().
		Select("*").
		From(tableName).
		Where(sq.Eq{columnID: id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var u User
	if err := r.q.Get(ctx, &u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// Update overwrites name and email of the row with the given id and sets
// u.ID to it. It returns ErrNotFound when no row matched.
func (r *Repository) Update(ctx context.Context, id int64, u *User) error {
	query, args, err := r.statement().
		Update(tableName).
		SetMap(updateMap(u)).
		Where(sq.Eq{columnID: id}).
		ToSql()
	if err != nil {
		return err
	}

	affected, err := r.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	u.ID = &id
	return nil
}

// Delete removes the row with the given id. It returns ErrNotFound when
// no row matched.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	query, args, err := r.statement().
		Delete(tableName).
		Where(sq.Eq{columnID: id}).
		ToSql()
	if err != nil {
		return err
	}

	affected, err := r.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
