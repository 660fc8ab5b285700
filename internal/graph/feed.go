package graph

import (
	"context"

	"microblog/internal/db"
	"microblog/internal/models"
	"microblog/internal/posts"
)

// The feed is the user's own posts plus those of everyone they follow.
// created_at ties are broken by id so that pages never overlap or skip.
const feedFrom = `
  FROM posts p
  JOIN users u ON u.id = p.user_id
 WHERE p.user_id = $1
    OR p.user_id IN (SELECT followee_id FROM follows WHERE follower_id = $1)
`

const feedOrder = ` ORDER BY p.created_at DESC, p.id DESC`

// FollowedPosts returns the whole feed of userID, newest first.
func FollowedPosts(ctx context.Context, q db.Querier, userID int64) ([]models.Post, error) {
	rows, err := q.QueryContext(ctx, `SELECT p.id, p.user_id, u.username, p.body, p.created_at`+feedFrom+feedOrder, userID)
	if err != nil {
		return nil, err
	}
	return posts.Scan(rows)
}

// FollowedPostsPage returns one page of the feed. page is 1-based; a
// perPage below 1 falls back to defPerPage.
func FollowedPostsPage(ctx context.Context, q db.Querier, userID int64, page, perPage, defPerPage int) (models.Page[models.Post], error) {
	page, perPage, offset := models.Offset(page, perPage, defPerPage)
	out := models.Page[models.Post]{Number: page, PerPage: perPage}

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*)`+feedFrom, userID).Scan(&out.Total); err != nil {
		return out, err
	}
	rows, err := q.QueryContext(ctx,
		`SELECT p.id, p.user_id, u.username, p.body, p.created_at`+feedFrom+feedOrder+` LIMIT $2 OFFSET $3`,
		userID, perPage, offset)
	if err != nil {
		return out, err
	}
	out.Items, err = posts.Scan(rows)
	return out, err
}
