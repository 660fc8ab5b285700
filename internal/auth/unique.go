package auth

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// uniqueColumn returns the users column behind a unique-constraint
// violation, or "" if err is not one.
func uniqueColumn(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		// Postgres names the constraints users_<column>_key
		return strings.TrimSuffix(strings.TrimPrefix(pgErr.ConstraintName, "users_"), "_key")
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		// "UNIQUE constraint failed: users.email"
		msg := sqErr.Error()
		if i := strings.LastIndex(msg, "users."); i >= 0 {
			return msg[i+len("users."):]
		}
	}
	return ""
}

func takenOr(err error) error {
	switch uniqueColumn(err) {
	case "username":
		return ErrUsernameTaken
	case "email":
		return ErrEmailTaken
	}
	return err
}

// TakenField names the form field an integrity error belongs to.
func TakenField(err error) string {
	switch {
	case errors.Is(err, ErrUsernameTaken):
		return "username"
	case errors.Is(err, ErrEmailTaken):
		return "email"
	}
	return ""
}
