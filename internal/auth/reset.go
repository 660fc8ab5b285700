package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"microblog/internal/db"
	"microblog/internal/models"
)

var ErrInvalidToken = errors.New("reset token is invalid or expired")

// Notifier delivers password reset tokens to the account owner.
type Notifier interface {
	PasswordReset(ctx context.Context, u models.User, token string) error
}

// LogNotifier records reset requests in the log instead of sending mail.
// The token itself is only written at debug level.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) PasswordReset(_ context.Context, u models.User, token string) error {
	n.Log.Info("password reset requested",
		zap.Int64("user_id", u.ID),
		zap.String("email", u.Email))
	n.Log.Debug("password reset token", zap.Int64("user_id", u.ID), zap.String("token", token))
	return nil
}

// RequestPasswordReset issues a single-use token for the account behind
// email, discarding any earlier token for it.
func RequestPasswordReset(ctx context.Context, q db.Querier, email string, lifetime time.Duration) (string, models.User, error) {
	u, err := UserByEmail(ctx, q, email)
	if err != nil {
		return "", models.User{}, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM password_resets WHERE user_id = $1`, u.ID); err != nil {
		return "", models.User{}, err
	}

	token := uuid.New().String()
	created := now()
	if _, err := q.ExecContext(ctx,
		`INSERT INTO password_resets (token, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		token, u.ID, created.Add(lifetime), created,
	); err != nil {
		return "", models.User{}, err
	}
	return token, u, nil
}

// ResetPassword consumes token, re-hashes the password and drops every
// session of the user.
func ResetPassword(ctx context.Context, q db.Querier, token, newPassword string) (models.User, error) {
	var (
		uid int64
		exp time.Time
	)
	err := q.QueryRowContext(ctx, `SELECT user_id, expires_at FROM password_resets WHERE token = $1`, token).Scan(&uid, &exp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrInvalidToken
		}
		return models.User{}, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM password_resets WHERE token = $1`, token); err != nil {
		return models.User{}, err
	}
	if !exp.After(now()) {
		return models.User{}, ErrInvalidToken
	}

	u, err := UserByID(ctx, q, uid)
	if err != nil {
		return models.User{}, err
	}
	if err := SetPassword(&u, newPassword); err != nil {
		return models.User{}, err
	}
	if err := StorePassword(ctx, q, &u); err != nil {
		return models.User{}, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, uid); err != nil {
		return models.User{}, err
	}
	return u, nil
}
