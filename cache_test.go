package pubdesk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pubdesk/content"
)

func TestPostCache(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	editor := member(t, a, "Ed Editor", content.RoleEditor)
	older := publish(t, a, editor, "Older story")
	newer := publish(t, a, editor, "Newer story")

	cache := NewPostCache(a.Content, time.Minute)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	lead, recent, err := cache.Front(ctx, 6)
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, newer.ID, lead.ID, "newest post leads when none is featured")
	require.Len(t, recent, 1)
	assert.Equal(t, older.ID, recent[0].ID)

	_, err = a.Posts.SetFeatured(ctx, editor, older.ID, true)
	assert.Error(t, err, "editors cannot feature")
	admin := member(t, a, "Ada Admin", content.RoleAdmin)
	_, err = a.Posts.SetFeatured(ctx, admin, older.ID, true)
	require.NoError(t, err)

	lead, _, err = cache.Front(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, lead.ID, "stale until invalidated or expired")

	now = now.Add(2 * time.Minute)
	lead, _, err = cache.Front(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, older.ID, lead.ID)

	got, err := cache.Get(ctx, newer.Slug)
	require.NoError(t, err)
	assert.Equal(t, "Newer story", got.Title)
	_, err = cache.Get(ctx, "missing")
	assert.ErrorIs(t, err, content.ErrNotFound)

	related, err := cache.Related(ctx, got, 3)
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, older.ID, related[0].ID)

	byCat, err := cache.ByCategory(ctx, content.CategoryHR)
	require.NoError(t, err)
	assert.Empty(t, byCat)
	byAuthor, err := cache.ByAuthor(ctx, editor.Author.ID)
	require.NoError(t, err)
	assert.Len(t, byAuthor, 2)

	require.NoError(t, a.Posts.Delete(ctx, admin, newer.ID))
	cache.Invalidate()
	posts, err := cache.Published(ctx)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestPostCacheEmpty(t *testing.T) {
	a := newTestApp(t)
	lead, recent, err := a.Cache.Front(context.Background(), 6)
	require.NoError(t, err)
	assert.Nil(t, lead)
	assert.Empty(t, recent)
}
