// Package graph keeps the follow relation between users and builds feeds
// from it. Every call reads current rows; nothing is cached.
package graph

import (
	"context"
	"errors"
	"fmt"

	"microblog/internal/auth"
	"microblog/internal/db"
	"microblog/internal/models"
)

var ErrSelfFollow = errors.New("users cannot follow themselves")

func requireUsers(ctx context.Context, q db.Querier, ids ...int64) error {
	for _, id := range ids {
		var exists bool
		if err := q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("user %d: %w", id, auth.ErrUserNotFound)
		}
	}
	return nil
}

// Follow adds the edge follower -> followee. Following twice is a no-op;
// concurrent callers race on the primary key, not on a lock.
func Follow(ctx context.Context, q db.Querier, follower, followee int64) error {
	if follower == followee {
		return ErrSelfFollow
	}
	if err := requireUsers(ctx, q, follower, followee); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO follows (follower_id, followee_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, follower, followee)
	return err
}

// Unfollow removes the edge if present.
func Unfollow(ctx context.Context, q db.Querier, follower, followee int64) error {
	if follower == followee {
		return ErrSelfFollow
	}
	if err := requireUsers(ctx, q, follower, followee); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`, follower, followee)
	return err
}

func IsFollowing(ctx context.Context, q db.Querier, follower, followee int64) (bool, error) {
	var ok bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)
	`, follower, followee).Scan(&ok)
	return ok, err
}

// FollowedCount is the number of users userID follows.
func FollowedCount(ctx context.Context, q db.Querier, userID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE follower_id = $1`, userID).Scan(&n)
	return n, err
}

// FollowerCount is the number of users following userID.
func FollowerCount(ctx context.Context, q db.Querier, userID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM follows WHERE followee_id = $1`, userID).Scan(&n)
	return n, err
}

// Followed lists the users userID follows, by username.
func Followed(ctx context.Context, q db.Querier, userID int64) ([]models.User, error) {
	return neighbours(ctx, q, `
		SELECT u.id, u.username, u.about_me
		  FROM follows f
		  JOIN users u ON u.id = f.followee_id
		 WHERE f.follower_id = $1
		 ORDER BY u.username
	`, userID)
}

// Followers lists the users following userID, by username.
func Followers(ctx context.Context, q db.Querier, userID int64) ([]models.User, error) {
	return neighbours(ctx, q, `
		SELECT u.id, u.username, u.about_me
		  FROM follows f
		  JOIN users u ON u.id = f.follower_id
		 WHERE f.followee_id = $1
		 ORDER BY u.username
	`, userID)
}

func neighbours(ctx context.Context, q db.Querier, query string, userID int64) ([]models.User, error) {
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.AboutMe); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
