package pubdesk

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/richtext"
	"github.com/eringen/pubdesk/views"
)

const (
	homeRecentLimit = 6
	relatedLimit    = 3
)

func (a *App) handleHome(c echo.Context) error {
	ctx := c.Request().Context()
	featured, recent, err := a.Cache.Front(ctx, homeRecentLimit)
	if err != nil {
		return err
	}
	return Render(c, a.Views.Home(views.HomePage{
		Page:       a.page(c, a.Config.Name),
		Featured:   featured,
		Recent:     recent,
		Categories: content.Categories,
	}))
}

func (a *App) handlePost(c echo.Context) error {
	ctx := c.Request().Context()
	slug := c.Param("slug")

	post, err := a.Cache.Get(ctx, slug)
	preview := false
	if errors.Is(err, content.ErrNotFound) {
		post, err = a.previewPost(c, slug)
		preview = err == nil
	}
	if err != nil {
		return err
	}

	var related []content.PostWithAuthor
	if !preview {
		if related, err = a.Cache.Related(ctx, post, relatedLimit); err != nil {
			return err
		}
	}

	p := a.page(c, post.Title)
	p.Meta.OGType = "article"
	if post.Excerpt != "" {
		p.Meta.Description = post.Excerpt
	}
	p.Meta.URL = BuildURL(a.Config.URL, "post", post.Slug)
	return Render(c, a.Views.Post(views.PostPage{
		Page:           p,
		Post:           *post,
		Related:        related,
		ReadingMinutes: richtext.ReadingTime(post.Body),
		Preview:        preview,
	}))
}

// previewPost returns an unpublished post for a caller who may edit it.
// Everyone else gets content.ErrNotFound so drafts stay invisible.
func (a *App) previewPost(c echo.Context, slug string) (*content.PostWithAuthor, error) {
	sess := SessionFrom(c)
	if sess == nil {
		return nil, content.ErrNotFound
	}
	ctx := c.Request().Context()
	post, err := a.Content.GetPostBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if _, err := a.Posts.Editable(ctx, sess, post.ID); err != nil {
		return nil, content.ErrNotFound
	}
	return post, nil
}

func (a *App) handleCategory(c echo.Context) error {
	cat := content.Category(c.Param("slug"))
	if !cat.Valid() {
		return content.ErrNotFound
	}
	posts, err := a.Cache.ByCategory(c.Request().Context(), cat)
	if err != nil {
		return err
	}
	return Render(c, a.Views.Category(views.CategoryPage{
		Page:     a.page(c, cat.Label()),
		Category: cat,
		Posts:    posts,
	}))
}

func (a *App) handleAuthor(c echo.Context) error {
	ctx := c.Request().Context()
	author, err := a.Content.GetAuthor(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if !author.Approved {
		return content.ErrNotFound
	}
	posts, err := a.Cache.ByAuthor(ctx, author.ID)
	if err != nil {
		return err
	}
	p := a.page(c, author.Name)
	p.Meta.OGType = "profile"
	if author.Bio != "" {
		p.Meta.Description = richtext.Excerpt(author.Bio, 160)
	}
	return Render(c, a.Views.Author(views.AuthorPage{
		Page:   p,
		Author: *author,
		Posts:  posts,
	}))
}

func (a *App) handleSitemap(c echo.Context) error {
	posts, err := a.Cache.Published(c.Request().Context())
	if err != nil {
		return err
	}
	authors, err := a.Content.ListAuthors(c.Request().Context(), true)
	if err != nil {
		return err
	}
	return a.renderSitemap(c, posts, authors)
}

func (a *App) handleFeed(c echo.Context) error {
	posts, err := a.Cache.Published(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderRSS(c, posts)
}

func (a *App) handleRobots(c echo.Context) error {
	var b strings.Builder
	b.WriteString("User-agent: *\n")
	for _, p := range []string{"/admin/", "/dashboard/", "/api/", "/login/", "/signup/"} {
		b.WriteString("Disallow: " + p + "\n")
	}
	b.WriteString("\nSitemap: " + strings.TrimSuffix(a.Config.URL, "/") + "/sitemap.xml\n")
	return c.String(http.StatusOK, b.String())
}

func (a *App) handleHealth(c echo.Context) error {
	if err := a.DB.PingContext(c.Request().Context()); err != nil {
		a.logger(c).Error().Err(err).Msg("health check failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
