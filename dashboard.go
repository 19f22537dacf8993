package pubdesk

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/moderation"
	"github.com/eringen/pubdesk/views"
)

func (a *App) handleDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	sess := SessionFrom(c)
	dp := views.DashboardPage{
		Page:        a.page(c, "Dashboard"),
		Author:      sess.Author,
		SelfPublish: a.Posts.Policy().SubmitTarget(sess) == content.StatusPublished,
	}
	if id := sess.AuthorID(); id != "" {
		posts, err := a.Content.ListPosts(ctx, content.PostFilter{AuthorID: id})
		if err != nil {
			return err
		}
		counts, err := a.Content.CountPosts(ctx, id)
		if err != nil {
			return err
		}
		dp.Posts = posts
		dp.Counts = counts
	}
	return Render(c, a.Views.Dashboard(dp))
}

func (a *App) handleWrite(c echo.Context) error {
	wp := views.WritePage{
		Page:       a.page(c, "New post"),
		Categories: content.Categories,
		Draft: moderation.Draft{
			Category:     content.Categories[0],
			ThumbnailURL: c.QueryParam("thumbnail_url"),
		},
	}
	if id := c.QueryParam("id"); id != "" {
		p, err := a.Posts.Editable(c.Request().Context(), SessionFrom(c), id)
		if err != nil {
			return err
		}
		wp.Page.Meta.Title = "Edit " + p.Title
		wp.Draft = draftOf(p)
		wp.Status = p.Status
	}
	return Render(c, a.Views.Write(wp))
}

func draftOf(p *content.Post) moderation.Draft {
	return moderation.Draft{
		ID:           p.ID,
		Title:        p.Title,
		Slug:         p.Slug,
		Excerpt:      p.Excerpt,
		Body:         p.Body,
		Category:     p.Category,
		ThumbnailURL: p.ThumbnailURL,
	}
}

func (a *App) handleDraftSave(c echo.Context) error {
	var d moderation.Draft
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid form")
	}
	p, err := a.Posts.SaveDraft(c.Request().Context(), SessionFrom(c), d)
	if err != nil {
		code, msg := classify(err)
		if code >= 500 || code == http.StatusUnauthorized {
			return err
		}
		wp := views.WritePage{
			Page:       a.page(c, "Edit post"),
			Draft:      d,
			Errors:     fieldErrors(err),
			Categories: content.Categories,
		}
		wp.Flash = msg
		if wp.Errors == nil && code == http.StatusConflict {
			wp.Errors = map[string]string{"slug": msg}
		}
		return RenderStatus(c, code, a.Views.Write(wp))
	}
	if p.Status == content.StatusPublished {
		a.Cache.Invalidate()
	}
	a.logger(c).Info().Str("post_id", p.ID).Str("status", string(p.Status)).Msg("draft saved")
	return redirectMsg(c, "/dashboard/write/?id="+url.QueryEscape(p.ID), "Saved")
}

func (a *App) handleDraftSubmit(c echo.Context) error {
	p, err := a.Posts.Submit(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return redirectBack(c, "/dashboard/", err)
	}
	msg := "Submitted for review"
	if p.Status == content.StatusPublished {
		a.Cache.Invalidate()
		msg = "Published"
	}
	a.logger(c).Info().Str("post_id", p.ID).Str("status", string(p.Status)).Msg("post submitted")
	return redirectMsg(c, "/dashboard/", msg)
}

func (a *App) handleProfileForm(c echo.Context) error {
	var pf moderation.Profile
	if au := SessionFrom(c).Author; au != nil {
		pf = profileOf(au)
	}
	return Render(c, a.Views.Profile(views.ProfilePage{
		Page:    a.page(c, "Your profile"),
		Profile: pf,
	}))
}

func profileOf(au *content.Author) moderation.Profile {
	return moderation.Profile{
		Name:         au.Name,
		Bio:          au.Bio,
		AvatarURL:    au.AvatarURL,
		Organization: au.Organization,
		LinkedInURL:  au.LinkedInURL,
	}
}

func (a *App) handleProfileSave(c echo.Context) error {
	var pf moderation.Profile
	if err := c.Bind(&pf); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid form")
	}
	if _, err := a.Authors.UpdateProfile(c.Request().Context(), SessionFrom(c), pf); err != nil {
		code, msg := classify(err)
		if code >= 500 || code == http.StatusUnauthorized {
			return err
		}
		pp := views.ProfilePage{
			Page:    a.page(c, "Your profile"),
			Profile: pf,
			Errors:  fieldErrors(err),
		}
		pp.Flash = msg
		return RenderStatus(c, code, a.Views.Profile(pp))
	}
	// Author names appear on cached posts.
	a.Cache.Invalidate()
	return redirectMsg(c, "/dashboard/profile/", "Profile saved")
}
