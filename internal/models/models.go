package models

import (
	"math"
	"time"
)

type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	AboutMe      string     `json:"about_me"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Session struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Post struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        int64     `json:"id"`
	PostID    int64     `json:"post_id"`
	UserID    int64     `json:"user_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Page is one window of an ordered result set. Number is 1-based.
type Page[T any] struct {
	Items   []T `json:"items"`
	Number  int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}

func (p Page[T]) HasPrev() bool { return p.Number > 1 }

func (p Page[T]) HasNext() bool {
	if p.PerPage < 1 {
		return false
	}
	return p.Number < (p.Total+p.PerPage-1)/p.PerPage
}

func (p Page[T]) PrevNum() int {
	if !p.HasPrev() {
		return 0
	}
	return p.Number - 1
}

func (p Page[T]) NextNum() int {
	if !p.HasNext() {
		return 0
	}
	return p.Number + 1
}

// Offset normalises page and perPage (page < 1 becomes 1, perPage < 1
// becomes def) and returns them with the row offset of the page. Page is
// capped at math.MaxInt/perPage so the offset never overflows.
func Offset(page, perPage, def int) (int, int, int) {
	if perPage < 1 {
		perPage = def
	}
	if perPage < 1 {
		perPage = 1
	}
	if page < 1 {
		page = 1
	}
	if last := math.MaxInt / perPage; page > last {
		page = last
	}
	return page, perPage, (page - 1) * perPage
}
