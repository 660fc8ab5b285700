package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"microblog/internal/auth"
	"microblog/internal/db"
	"microblog/internal/models"
)

var ErrPostNotFound = errors.New("post not found")

var now = func() time.Time { return time.Now().UTC() }

const postSelect = `
SELECT p.id, p.user_id, u.username, p.body, p.created_at
  FROM posts p
  JOIN users u ON u.id = p.user_id
`

// Scan drains rows selected with the post column order
// (id, user_id, username, body, created_at) and closes them.
func Scan(rows *sql.Rows) ([]models.Post, error) {
	defer rows.Close()
	out := []models.Post{}
	for rows.Next() {
		var p models.Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.Author, &p.Body, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AddPost publishes body as authorID, stamped with the current time.
func AddPost(ctx context.Context, q db.Querier, authorID int64, body string) (models.Post, error) {
	return InsertPost(ctx, q, authorID, body, now())
}

// InsertPost stores a post with an explicit creation time.
func InsertPost(ctx context.Context, q db.Querier, authorID int64, body string, at time.Time) (models.Post, error) {
	author, err := auth.UserByID(ctx, q, authorID)
	if err != nil {
		return models.Post{}, err
	}
	p := models.Post{UserID: author.ID, Author: author.Username, Body: body, CreatedAt: at.UTC()}
	err = q.QueryRowContext(ctx,
		`INSERT INTO posts (user_id, body, created_at) VALUES ($1, $2, $3) RETURNING id`,
		p.UserID, p.Body, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return models.Post{}, err
	}
	return p, nil
}

func GetPost(ctx context.Context, q db.Querier, id int64) (models.Post, error) {
	var p models.Post
	err := q.QueryRowContext(ctx, postSelect+` WHERE p.id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.Author, &p.Body, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Post{}, ErrPostNotFound
	}
	return p, err
}

// ByAuthor pages through the posts of one user, newest first.
func ByAuthor(ctx context.Context, q db.Querier, userID int64, page, perPage, defPerPage int) (models.Page[models.Post], error) {
	return paged(ctx, q, ` WHERE p.user_id = $1`, []any{userID}, page, perPage, defPerPage)
}

// Explore pages through every post, newest first.
func Explore(ctx context.Context, q db.Querier, page, perPage, defPerPage int) (models.Page[models.Post], error) {
	return paged(ctx, q, ``, nil, page, perPage, defPerPage)
}

func paged(ctx context.Context, q db.Querier, where string, args []any, page, perPage, defPerPage int) (models.Page[models.Post], error) {
	page, perPage, offset := models.Offset(page, perPage, defPerPage)
	out := models.Page[models.Post]{Number: page, PerPage: perPage}

	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts p`+where, args...).Scan(&out.Total); err != nil {
		return out, err
	}

	query := postSelect + where +
		fmt.Sprintf(` ORDER BY p.created_at DESC, p.id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := q.QueryContext(ctx, query, append(args, perPage, offset)...)
	if err != nil {
		return out, err
	}
	out.Items, err = Scan(rows)
	return out, err
}

// ----------------------------
// Comments
// ----------------------------

func AddComment(ctx context.Context, q db.Querier, authorID, postID int64, content string) (models.Comment, error) {
	author, err := auth.UserByID(ctx, q, authorID)
	if err != nil {
		return models.Comment{}, err
	}
	if _, err := GetPost(ctx, q, postID); err != nil {
		return models.Comment{}, err
	}

	c := models.Comment{PostID: postID, UserID: author.ID, Author: author.Username, Content: content, CreatedAt: now()}
	err = q.QueryRowContext(ctx,
		`INSERT INTO comments (post_id, user_id, content, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.PostID, c.UserID, c.Content, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return models.Comment{}, err
	}
	return c, nil
}

// Comments lists the comments on postID, oldest first.
func Comments(ctx context.Context, q db.Querier, postID int64) ([]models.Comment, error) {
	rows, err := q.QueryContext(ctx, `
SELECT c.id, c.post_id, c.user_id, u.username, c.content, c.created_at
  FROM comments c
  JOIN users u ON u.id = c.user_id
 WHERE c.post_id = $1
 ORDER BY c.created_at ASC, c.id ASC
`, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Comment{}
	for rows.Next() {
		var c models.Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.UserID, &c.Author, &c.Content, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
