package pubdesk

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pubdesk/media"
	"github.com/eringen/pubdesk/moderation"
)

type uploadResponse struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Size   int    `json:"size"`
}

// uploadImage reads the "image" form file, processes it and stores it
// under the caller's author id.
func (a *App) uploadImage(c echo.Context) (string, *media.Image, error) {
	sess := SessionFrom(c)
	file, err := c.FormFile("image")
	if err != nil {
		return "", nil, echo.NewHTTPError(http.StatusBadRequest, "No image file provided")
	}
	if file.Size > media.MaxUploadSize {
		return "", nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "File too large (max 10MB)")
	}

	src, err := file.Open()
	if err != nil {
		return "", nil, err
	}
	defer src.Close()

	u, img, err := media.Upload(c.Request().Context(), a.media, sess.AuthorID(), src, file.Filename)
	if err != nil {
		return "", nil, err
	}
	a.logger(c).Info().
		Str("author_id", sess.AuthorID()).
		Str("url", u).
		Int("width", img.Width).
		Int("height", img.Height).
		Msg("image uploaded")
	return u, img, nil
}

// handleMediaUpload stores a thumbnail from the write page. With a post id
// the post's thumbnail is replaced; without one the URL is carried back to
// the new-post form.
func (a *App) handleMediaUpload(c echo.Context) error {
	id := c.FormValue("id")
	back := "/dashboard/write/"
	if id != "" {
		back += "?id=" + url.QueryEscape(id)
	}

	u, _, err := a.uploadImage(c)
	if err != nil {
		return redirectBack(c, back, err)
	}
	if id == "" {
		return c.Redirect(http.StatusSeeOther, "/dashboard/write/?thumbnail_url="+url.QueryEscape(u))
	}

	ctx := c.Request().Context()
	sess := SessionFrom(c)
	p, err := a.Posts.Editable(ctx, sess, id)
	if err != nil {
		return redirectBack(c, back, err)
	}
	if _, err := a.Posts.SaveDraft(ctx, sess, moderation.Draft{
		ID:           p.ID,
		Title:        p.Title,
		Slug:         p.Slug,
		Excerpt:      p.Excerpt,
		Body:         p.Body,
		Category:     p.Category,
		ThumbnailURL: u,
	}); err != nil {
		return redirectBack(c, back, err)
	}
	a.Cache.Invalidate()
	return redirectMsg(c, back, "Thumbnail uploaded")
}

func (a *App) apiMediaUpload(c echo.Context) error {
	u, img, err := a.uploadImage(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, uploadResponse{
		URL:    u,
		Width:  img.Width,
		Height: img.Height,
		Size:   len(img.Data),
	})
}
