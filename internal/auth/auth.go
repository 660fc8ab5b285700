// internal/auth/auth.go
package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"microblog/internal/db"
	"microblog/internal/models"
)

var (
	ErrEmailTaken    = errors.New("email already taken")
	ErrUsernameTaken = errors.New("username already taken")
	ErrInvalidLogin  = errors.New("invalid username or password")
	ErrNoSession     = errors.New("session not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrCorruptHash   = errors.New("stored password hash is missing or corrupt")
)

// Cost is the bcrypt work factor used by SetPassword.
var Cost = bcrypt.DefaultCost

var now = func() time.Time { return time.Now().UTC() }

// ----------------------------
// Context helpers (middleware and handlers)
// ----------------------------

type ctxKeyUserID struct{}

func WithUserID(ctx context.Context, uid int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID{}, uid)
}

func UserIDFrom(ctx context.Context) (int64, bool) {
	v := ctx.Value(ctxKeyUserID{})
	if v == nil {
		return 0, false
	}
	id, _ := v.(int64)
	return id, id != 0
}

// ----------------------------
// Passwords
// ----------------------------

// SetPassword hashes plaintext with a fresh salt and stores it on u. Nothing
// is written to the database.
func SetPassword(u *models.User, plaintext string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), Cost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether plaintext matches the hash on u. A wrong
// password is (false, nil); an error means the stored hash is unusable.
func CheckPassword(u *models.User, plaintext string) (bool, error) {
	if u.PasswordHash == "" {
		return false, ErrCorruptHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrCorruptHash, err)
	}
}

// ----------------------------
// Register
// ----------------------------

func Register(ctx context.Context, q db.Querier, email, username, password string) (models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	username = strings.TrimSpace(username)

	if email == "" || username == "" || password == "" {
		return models.User{}, errors.New("email, username and password are required")
	}

	// duplicate checks give a clear error before bcrypt runs
	var exists int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE username = $1`, username).Scan(&exists); err != nil {
		return models.User{}, err
	}
	if exists > 0 {
		return models.User{}, ErrUsernameTaken
	}
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE email = $1`, email).Scan(&exists); err != nil {
		return models.User{}, err
	}
	if exists > 0 {
		return models.User{}, ErrEmailTaken
	}

	u := models.User{Username: username, Email: email, CreatedAt: now()}
	if err := SetPassword(&u, password); err != nil {
		return models.User{}, err
	}

	err := q.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password_hash, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Username, u.Email, u.PasswordHash, u.CreatedAt,
	).Scan(&u.ID)
	// a concurrent registration can still win the UNIQUE race
	if err != nil {
		return models.User{}, takenOr(err)
	}
	return u, nil
}

// ----------------------------
// Login (uuid session with expiry)
// ----------------------------

// Login verifies the credentials and replaces the user's sessions with a new
// one. Run it inside a transaction.
func Login(ctx context.Context, q db.Querier, username, password string, lifetime time.Duration) (string, int64, error) {
	u, err := UserByUsername(ctx, q, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return "", 0, ErrInvalidLogin
	}
	if err != nil {
		return "", 0, err
	}

	ok, err := CheckPassword(&u, password)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, ErrInvalidLogin
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, u.ID); err != nil {
		return "", 0, err
	}

	sid := uuid.New().String()
	created := now()
	if _, err := q.ExecContext(ctx, `
        INSERT INTO sessions (id, user_id, expires_at, created_at)
        VALUES ($1, $2, $3, $4)
    `, sid, u.ID, created.Add(lifetime), created); err != nil {
		return "", 0, err
	}
	return sid, u.ID, nil
}

// ----------------------------
// Logout (deletes the session by id)
// ----------------------------

func Logout(ctx context.Context, q db.Querier, sid string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, sid)
	return err
}

// ----------------------------
// UserFromSession: resolves a cookie value to (uid, expires)
// ----------------------------

func UserFromSession(ctx context.Context, q db.Querier, sid string) (int64, time.Time, error) {
	var s models.Session
	err := q.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM sessions WHERE id = $1`,
		sid,
	).Scan(&s.UserID, &s.ExpiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, ErrNoSession
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	return s.UserID, s.ExpiresAt, nil
}
