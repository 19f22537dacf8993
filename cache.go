package pubdesk

import (
	"context"
	"sync"
	"time"

	"github.com/eringen/pubdesk/content"
)

// PostCache is an in-memory cache of the published catalogue with a TTL.
// Public pages, the feed and the sitemap read from it; every editorial
// change invalidates it.
type PostCache struct {
	mu      sync.RWMutex
	posts   []content.PostWithAuthor
	fetched time.Time
	ttl     time.Duration
	store   *content.Store
	now     func() time.Time
}

// NewPostCache creates a PostCache backed by the given store.
func NewPostCache(s *content.Store, ttl time.Duration) *PostCache {
	return &PostCache{store: s, ttl: ttl, now: time.Now}
}

func (c *PostCache) valid() bool {
	return c.posts != nil && c.now().Sub(c.fetched) < c.ttl
}

// Invalidate clears the cache so the next read triggers a fresh load.
func (c *PostCache) Invalidate() {
	c.mu.Lock()
	c.posts = nil
	c.mu.Unlock()
}

// ensureLoaded returns the cached posts after ensuring the cache is fresh.
// It tries a read lock first; only takes a write lock if a reload is needed.
func (c *PostCache) ensureLoaded(ctx context.Context) ([]content.PostWithAuthor, error) {
	c.mu.RLock()
	if c.valid() {
		posts := c.posts
		c.mu.RUnlock()
		return posts, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.valid() {
		return c.posts, nil
	}
	posts, err := c.store.ListPublished(ctx, content.PostFilter{})
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []content.PostWithAuthor{}
	}
	c.posts = posts
	c.fetched = c.now()
	return c.posts, nil
}

// Published returns every published post, newest first.
func (c *PostCache) Published(ctx context.Context) ([]content.PostWithAuthor, error) {
	return c.ensureLoaded(ctx)
}

// Front returns the home page selection: the newest featured post (or the
// newest post when none is featured) and up to limit other recent posts.
func (c *PostCache) Front(ctx context.Context, limit int) (*content.PostWithAuthor, []content.PostWithAuthor, error) {
	posts, err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(posts) == 0 {
		return nil, nil, nil
	}
	featured := 0
	for i, p := range posts {
		if p.Featured {
			featured = i
			break
		}
	}
	lead := posts[featured]
	recent := make([]content.PostWithAuthor, 0, limit)
	for i, p := range posts {
		if i == featured {
			continue
		}
		if len(recent) == limit {
			break
		}
		recent = append(recent, p)
	}
	return &lead, recent, nil
}

// ByCategory returns published posts in cat.
func (c *PostCache) ByCategory(ctx context.Context, cat content.Category) ([]content.PostWithAuthor, error) {
	return c.filter(ctx, func(p content.PostWithAuthor) bool { return p.Category == cat })
}

// ByAuthor returns published posts written by authorID.
func (c *PostCache) ByAuthor(ctx context.Context, authorID string) ([]content.PostWithAuthor, error) {
	return c.filter(ctx, func(p content.PostWithAuthor) bool { return p.AuthorID == authorID })
}

func (c *PostCache) filter(ctx context.Context, keep func(content.PostWithAuthor) bool) ([]content.PostWithAuthor, error) {
	posts, err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	var out []content.PostWithAuthor
	for _, p := range posts {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Get returns a published post by slug, or content.ErrNotFound.
func (c *PostCache) Get(ctx context.Context, slug string) (*content.PostWithAuthor, error) {
	posts, err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range posts {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, content.ErrNotFound
}

// Related returns up to limit other published posts in the same category.
func (c *PostCache) Related(ctx context.Context, post *content.PostWithAuthor, limit int) ([]content.PostWithAuthor, error) {
	posts, err := c.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}
	var out []content.PostWithAuthor
	for _, p := range posts {
		if len(out) == limit {
			break
		}
		if p.ID != post.ID && p.Category == post.Category {
			out = append(out, p)
		}
	}
	return out, nil
}
