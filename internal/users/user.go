package users

import "errors"

// User is one row of the users table. ID is nil until the database
// assigns it and serializes as null.
type User struct {
	ID    *int64 `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Email string `json:"email" db:"email"`
}

// Validate checks that the writable fields are present.
func (u *User) Validate() error {
	if u.Name == "" {
		return errors.New("name must not be empty")
	}
	if u.Email == "" {
		return errors.New("email must not be empty")
	}
	return nil
}
