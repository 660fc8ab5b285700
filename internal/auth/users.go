package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"microblog/internal/db"
	"microblog/internal/models"
)

const userColumns = `id, username, email, password_hash, about_me, last_seen, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (models.User, error) {
	var (
		u        models.User
		lastSeen sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.AboutMe, &lastSeen, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		u.LastSeen = &t
	}
	return u, nil
}

func UserByID(ctx context.Context, q db.Querier, id int64) (models.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func UserByUsername(ctx context.Context, q db.Querier, username string) (models.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

func UserByEmail(ctx context.Context, q db.Querier, email string) (models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UpdateProfile renames the user and replaces the bio. Keeping the current
// username is always allowed; taking another user's name is ErrUsernameTaken.
func UpdateProfile(ctx context.Context, q db.Querier, userID int64, username, aboutMe string) (models.User, error) {
	u, err := UserByID(ctx, q, userID)
	if err != nil {
		return models.User{}, err
	}
	username = strings.TrimSpace(username)

	if username != u.Username {
		var exists int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE username = $1`, username).Scan(&exists); err != nil {
			return models.User{}, err
		}
		if exists > 0 {
			return models.User{}, ErrUsernameTaken
		}
	}

	if _, err := q.ExecContext(ctx,
		`UPDATE users SET username = $1, about_me = $2 WHERE id = $3`,
		username, aboutMe, userID,
	); err != nil {
		return models.User{}, takenOr(err)
	}
	u.Username = username
	u.AboutMe = aboutMe
	return u, nil
}

func TouchLastSeen(ctx context.Context, q db.Querier, userID int64, at time.Time) error {
	_, err := q.ExecContext(ctx, `UPDATE users SET last_seen = $1 WHERE id = $2`, at.UTC(), userID)
	return err
}

// StorePassword persists the hash previously set on u by SetPassword.
func StorePassword(ctx context.Context, q db.Querier, u *models.User) error {
	if u.PasswordHash == "" {
		return ErrCorruptHash
	}
	res, err := q.ExecContext(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, u.PasswordHash, u.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUserNotFound
	}
	return nil
}
