// Package users maps the user record onto the users table.
package users

import (
	"context"
	"fmt"

	"github.com/arllen133/userd/internal/db"
)

const (
	tableName   = "users"
	columnID    = "id"
	columnName  = "name"
	columnEmail = "email"
)

// insertRow returns the columns and values written on create. The id is
// always left to the database.
func insertRow(u *User) ([]string, []any) {
	return []string{columnName, columnEmail}, []any{u.Name, u.Email}
}

// updateMap returns the assignments written on update.
func updateMap(u *User) map[string]any {
	return map[string]any{
		columnName:  u.Name,
		columnEmail: u.Email,
	}
}

// EnsureTable creates the users table if it does not exist.
func EnsureTable(ctx context.Context, q db.Querier) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s %s,
	%s TEXT NOT NULL,
	%s TEXT NOT NULL
)`, tableName, columnID, q.Dialect().SerialPrimaryKey(), columnName, columnEmail)

	if _, err := q.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("create %s table: %w", tableName, err)
	}
	return nil
}
