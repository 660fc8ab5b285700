package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"microblog/internal/auth"
	"microblog/internal/dbtest"
	"microblog/internal/models"
	"microblog/internal/posts"
)

func TestMain(m *testing.M) {
	auth.Cost = bcrypt.MinCost
	os.Exit(m.Run())
}

func newUser(t *testing.T, d *sql.DB, name string) models.User {
	t.Helper()
	u, err := auth.Register(context.Background(), d, name+"@gmail.com", name, "pw")
	require.NoError(t, err)
	return u
}

func counts(t *testing.T, d *sql.DB, id int64) (followed, followers int) {
	t.Helper()
	ctx := context.Background()
	followed, err := FollowedCount(ctx, d, id)
	require.NoError(t, err)
	followers, err = FollowerCount(ctx, d, id)
	require.NoError(t, err)
	return followed, followers
}

func TestFollowers(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	u1 := newUser(t, d, "test_name1")
	u2 := newUser(t, d, "test_name2")

	followed, err := Followed(ctx, d, u1.ID)
	require.NoError(t, err)
	assert.Empty(t, followed)
	followers, err := Followers(ctx, d, u2.ID)
	require.NoError(t, err)
	assert.Empty(t, followers)

	ok, err := IsFollowing(ctx, d, u1.ID, u2.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Follow(ctx, d, u1.ID, u2.ID))

	ok, err = IsFollowing(ctx, d, u1.ID, u2.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = IsFollowing(ctx, d, u2.ID, u1.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	n, _ := counts(t, d, u1.ID)
	assert.Equal(t, 1, n)
	_, n = counts(t, d, u2.ID)
	assert.Equal(t, 1, n)

	followed, err = Followed(ctx, d, u1.ID)
	require.NoError(t, err)
	require.Len(t, followed, 1)
	assert.Equal(t, "test_name2", followed[0].Username)
	followers, err = Followers(ctx, d, u2.ID)
	require.NoError(t, err)
	require.Len(t, followers, 1)
	assert.Equal(t, "test_name1", followers[0].Username)

	require.NoError(t, Unfollow(ctx, d, u1.ID, u2.ID))
	n, _ = counts(t, d, u1.ID)
	assert.Zero(t, n)
	_, n = counts(t, d, u2.ID)
	assert.Zero(t, n)
	ok, err = IsFollowing(ctx, d, u1.ID, u2.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowIsIdempotent(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	a := newUser(t, d, "a")
	b := newUser(t, d, "b")

	require.NoError(t, Follow(ctx, d, a.ID, b.ID))
	require.NoError(t, Follow(ctx, d, a.ID, b.ID))

	followed, _ := counts(t, d, a.ID)
	assert.Equal(t, 1, followed)
	_, followers := counts(t, d, b.ID)
	assert.Equal(t, 1, followers)
}

func TestUnfollowWithoutEdgeIsNoop(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	a := newUser(t, d, "a")
	b := newUser(t, d, "b")
	c := newUser(t, d, "c")
	require.NoError(t, Follow(ctx, d, c.ID, b.ID))

	require.NoError(t, Unfollow(ctx, d, a.ID, b.ID))

	followed, _ := counts(t, d, a.ID)
	assert.Zero(t, followed)
	_, followers := counts(t, d, b.ID)
	assert.Equal(t, 1, followers)
}

func TestSelfFollowRejected(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	a := newUser(t, d, "a")

	assert.ErrorIs(t, Follow(ctx, d, a.ID, a.ID), ErrSelfFollow)
	assert.ErrorIs(t, Unfollow(ctx, d, a.ID, a.ID), ErrSelfFollow)
	ok, err := IsFollowing(ctx, d, a.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFollowUnknownUser(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	a := newUser(t, d, "a")

	assert.ErrorIs(t, Follow(ctx, d, a.ID, 999), auth.ErrUserNotFound)
	assert.ErrorIs(t, Follow(ctx, d, 999, a.ID), auth.ErrUserNotFound)
	assert.ErrorIs(t, Unfollow(ctx, d, a.ID, 999), auth.ErrUserNotFound)
}

func TestEmptyUser(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	a := newUser(t, d, "a")

	feed, err := FollowedPosts(ctx, d, a.ID)
	require.NoError(t, err)
	assert.Empty(t, feed)

	followed, followers := counts(t, d, a.ID)
	assert.Zero(t, followed)
	assert.Zero(t, followers)
}

func TestFollowedPosts(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	u1 := newUser(t, d, "test_name1")
	u2 := newUser(t, d, "test_name2")
	u3 := newUser(t, d, "test_name3")
	u4 := newUser(t, d, "test_name4")

	now := time.Now().UTC()
	add := func(u models.User, body string, secs int) int64 {
		p, err := posts.InsertPost(ctx, d, u.ID, body, now.Add(time.Duration(secs)*time.Second))
		require.NoError(t, err)
		return p.ID
	}
	p1 := add(u1, "post from john", 1)
	p2 := add(u2, "post from susan", 4)
	p3 := add(u3, "post from mary", 3)
	p4 := add(u4, "post from david", 2)

	require.NoError(t, Follow(ctx, d, u1.ID, u2.ID))
	require.NoError(t, Follow(ctx, d, u1.ID, u4.ID))
	require.NoError(t, Follow(ctx, d, u2.ID, u3.ID))
	require.NoError(t, Follow(ctx, d, u3.ID, u4.ID))

	ids := func(u models.User) []int64 {
		feed, err := FollowedPosts(ctx, d, u.ID)
		require.NoError(t, err)
		out := make([]int64, len(feed))
		for i, p := range feed {
			out[i] = p.ID
		}
		return out
	}

	assert.Equal(t, []int64{p2, p4, p1}, ids(u1))
	assert.Equal(t, []int64{p2, p3}, ids(u2))
	assert.Equal(t, []int64{p3, p4}, ids(u3))
	assert.Equal(t, []int64{p4}, ids(u4))
}

func TestFollowedPostsReflectsUnfollow(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	a := newUser(t, d, "a")
	b := newUser(t, d, "b")
	_, err := posts.AddPost(ctx, d, b.ID, "hello")
	require.NoError(t, err)

	require.NoError(t, Follow(ctx, d, a.ID, b.ID))
	feed, err := FollowedPosts(ctx, d, a.ID)
	require.NoError(t, err)
	assert.Len(t, feed, 1)

	require.NoError(t, Unfollow(ctx, d, a.ID, b.ID))
	feed, err = FollowedPosts(ctx, d, a.ID)
	require.NoError(t, err)
	assert.Empty(t, feed)
}

func TestFollowedPostsPagesAreStable(t *testing.T) {
	d := dbtest.New(t)
	ctx := context.Background()
	a := newUser(t, d, "a")
	b := newUser(t, d, "b")
	require.NoError(t, Follow(ctx, d, a.ID, b.ID))

	// identical timestamps force the id tie-break
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var want []int64
	for i := 0; i < 7; i++ {
		author := a
		if i%2 == 1 {
			author = b
		}
		p, err := posts.InsertPost(ctx, d, author.ID, fmt.Sprintf("post %d", i), at)
		require.NoError(t, err)
		want = append([]int64{p.ID}, want...)
	}

	var got []int64
	for page := 1; ; page++ {
		pg, err := FollowedPostsPage(ctx, d, a.ID, page, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, 7, pg.Total)
		for _, p := range pg.Items {
			got = append(got, p.ID)
		}
		if !pg.HasNext() {
			break
		}
	}
	assert.Equal(t, want, got)

	all, err := FollowedPosts(ctx, d, a.ID)
	require.NoError(t, err)
	require.Len(t, all, 7)
	assert.Equal(t, want[0], all[0].ID)
}
