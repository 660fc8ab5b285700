package posts

import (
	"context"
	"fmt"
	"strings"

	"microblog/internal/db"
	"microblog/internal/models"
)

// Index ranks posts for a free-text query. Implementations return one page
// of post ids in rank order and the total number of hits.
type Index interface {
	Search(ctx context.Context, query string, page, perPage int) ([]int64, int, error)
}

// SQLIndex matches every whitespace-separated term of the query as a
// case-insensitive substring of the body and ranks newest first.
type SQLIndex struct {
	DB db.Querier
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (ix SQLIndex) Search(ctx context.Context, query string, page, perPage int) ([]int64, int, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return []int64{}, 0, nil
	}

	var (
		args []any
		sb   strings.Builder
	)
	sb.WriteString(` FROM posts p WHERE 1=1`)
	for _, term := range terms {
		args = append(args, "%"+likeEscaper.Replace(term)+"%")
		fmt.Fprintf(&sb, ` AND LOWER(p.body) LIKE $%d ESCAPE '\'`, len(args))
	}

	var total int
	if err := ix.DB.QueryRowContext(ctx, `SELECT COUNT(*)`+sb.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	_, perPage, offset := models.Offset(page, perPage, 1)
	fmt.Fprintf(&sb, ` ORDER BY p.created_at DESC, p.id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := ix.DB.QueryContext(ctx, `SELECT p.id`+sb.String(), append(args, perPage, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, 0, err
		}
		ids = append(ids, id)
	}
	return ids, total, rows.Err()
}

// Search asks idx for one page of hits and loads those posts in the order
// idx ranked them. Ids the index knows but the store does not are skipped.
func Search(ctx context.Context, q db.Querier, idx Index, query string, page, perPage, defPerPage int) (models.Page[models.Post], error) {
	page, perPage, _ = models.Offset(page, perPage, defPerPage)
	out := models.Page[models.Post]{Number: page, PerPage: perPage, Items: []models.Post{}}

	ids, total, err := idx.Search(ctx, query, page, perPage)
	if err != nil {
		return out, err
	}
	out.Total = total
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, postSelect+` WHERE p.id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return out, err
	}
	found, err := Scan(rows)
	if err != nil {
		return out, err
	}

	byID := make(map[int64]models.Post, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out.Items = append(out.Items, p)
		}
	}
	return out, nil
}
