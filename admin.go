package pubdesk

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pubdesk/analytics"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/views"
)

const (
	adminRecentActivity = 15
	adminPostsLimit     = 200
	auditLimit          = 200
)

var analyticsPeriods = []string{"today", "week", "month", "year", "all"}

func (a *App) handleAdmin(c echo.Context) error {
	ctx := c.Request().Context()
	counts, err := a.Content.CountPosts(ctx, "")
	if err != nil {
		return err
	}
	authors, err := a.Content.CountAuthors(ctx)
	if err != nil {
		return err
	}
	pending, err := a.Content.CountSubmissions(ctx, content.SubmissionPending)
	if err != nil {
		return err
	}
	recent, err := a.Analytics.RecentActivity(ctx, adminRecentActivity)
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminHome(views.AdminHomePage{
		Page:                a.page(c, "Admin"),
		Counts:              counts,
		Authors:             authors,
		PendingApplications: pending,
		Recent:              recent,
	}))
}

// adminPostFilter reads the listing filter shared by the admin page and
// its JSON mirror.
func adminPostFilter(c echo.Context) content.PostFilter {
	f := content.PostFilter{
		Status:   content.PostStatus(c.QueryParam("status")),
		Category: content.Category(c.QueryParam("category")),
		Search:   strings.TrimSpace(c.QueryParam("q")),
		Limit:    queryInt(c.QueryParam("limit"), adminPostsLimit, adminPostsLimit),
		Offset:   queryInt(c.QueryParam("offset"), 0, 0),
	}
	if !f.Status.Valid() {
		f.Status = ""
	}
	if !f.Category.Valid() {
		f.Category = ""
	}
	return f
}

func (a *App) handleAdminPosts(c echo.Context) error {
	f := adminPostFilter(c)
	posts, err := a.Content.ListPosts(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminPosts(views.AdminPostsPage{
		Page:     a.page(c, "Posts"),
		Posts:    posts,
		Filter:   f,
		Statuses: []content.PostStatus{content.StatusDraft, content.StatusPending, content.StatusPublished},
	}))
}

func (a *App) handleAdminPublish(c echo.Context) error {
	p, err := a.Posts.Publish(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return redirectBack(c, "/admin/posts/", err)
	}
	a.Cache.Invalidate()
	a.logger(c).Info().Str("post_id", p.ID).Msg("post published")
	return redirectMsg(c, "/admin/posts/", "Published "+p.Title)
}

func (a *App) handleAdminReject(c echo.Context) error {
	p, err := a.Posts.RejectToDraft(c.Request().Context(), SessionFrom(c), c.Param("id"), c.FormValue("note"))
	if err != nil {
		return redirectBack(c, "/admin/posts/", err)
	}
	a.logger(c).Info().Str("post_id", p.ID).Msg("post returned to draft")
	return redirectMsg(c, "/admin/posts/", "Returned "+p.Title+" to its author")
}

func (a *App) handleAdminFeature(featured bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := a.Posts.SetFeatured(c.Request().Context(), SessionFrom(c), c.Param("id"), featured)
		if err != nil {
			return redirectBack(c, "/admin/posts/", err)
		}
		a.Cache.Invalidate()
		msg := "Unfeatured " + p.Title
		if featured {
			msg = "Featured " + p.Title
		}
		return redirectMsg(c, "/admin/posts/", msg)
	}
}

func (a *App) handleAdminDelete(c echo.Context) error {
	id := c.Param("id")
	if err := a.Posts.Delete(c.Request().Context(), SessionFrom(c), id); err != nil {
		return redirectBack(c, "/admin/posts/", err)
	}
	a.Cache.Invalidate()
	a.logger(c).Info().Str("post_id", id).Msg("post deleted")
	return redirectMsg(c, "/admin/posts/", "Deleted")
}

func (a *App) handleAdminApplications(c echo.Context) error {
	return a.renderApplications(c, http.StatusOK, a.page(c, "Applications"), "")
}

func (a *App) renderApplications(c echo.Context, code int, p views.Page, invitation string) error {
	ctx := c.Request().Context()
	pending, err := a.Content.ListSubmissions(ctx, content.SubmissionPending)
	if err != nil {
		return err
	}
	approved, err := a.Content.ListSubmissions(ctx, content.SubmissionApproved)
	if err != nil {
		return err
	}
	rejected, err := a.Content.ListSubmissions(ctx, content.SubmissionRejected)
	if err != nil {
		return err
	}
	return RenderStatus(c, code, a.Views.AdminApplications(views.AdminApplicationsPage{
		Page:       p,
		Pending:    pending,
		Reviewed:   reviewedNewestFirst(approved, rejected),
		Invitation: invitation,
	}))
}

// reviewedNewestFirst merges two review lists by review time.
func reviewedNewestFirst(lists ...[]content.Submission) []content.Submission {
	var out []content.Submission
	for _, l := range lists {
		out = append(out, l...)
	}
	reviewedAt := func(s content.Submission) time.Time {
		if s.ReviewedAt == nil {
			return s.CreatedAt
		}
		return *s.ReviewedAt
	}
	slices.SortStableFunc(out, func(x, y content.Submission) int {
		return reviewedAt(y).Compare(reviewedAt(x))
	})
	return out
}

// handleAdminApprove renders the applications page directly instead of
// redirecting so the invitation link stays out of URLs and request logs.
func (a *App) handleAdminApprove(c echo.Context) error {
	ap, err := a.Applications.Approve(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return redirectBack(c, "/admin/applications/", err)
	}
	a.Cache.Invalidate()
	a.logger(c).Info().Str("author_id", ap.Author.ID).Msg("application approved")
	p := a.page(c, "Applications")
	p.Flash = "Approved " + ap.Author.Name
	return a.renderApplications(c, http.StatusOK, p, a.invitationURL(ap))
}

func (a *App) handleAdminRejectApplication(c echo.Context) error {
	sub, err := a.Applications.Reject(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return redirectBack(c, "/admin/applications/", err)
	}
	a.logger(c).Info().Str("submission_id", sub.ID).Msg("application rejected")
	return redirectMsg(c, "/admin/applications/", "Rejected "+sub.Name)
}

func (a *App) handleAdminAuthors(c echo.Context) error {
	authors, err := a.Content.ListAuthors(c.Request().Context(), false)
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminAuthors(views.AdminAuthorsPage{
		Page:    a.page(c, "Authors"),
		Authors: authors,
		Roles:   content.Roles,
	}))
}

func (a *App) handleAdminAuthorAccess(approved bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		au, err := a.Authors.SetApproved(c.Request().Context(), SessionFrom(c), c.Param("id"), approved)
		if err != nil {
			return redirectBack(c, "/admin/authors/", err)
		}
		// Revoking an author hides their posts from public listings.
		a.Cache.Invalidate()
		msg := "Revoked " + au.Name
		if approved {
			msg = "Approved " + au.Name
		}
		return redirectMsg(c, "/admin/authors/", msg)
	}
}

func (a *App) handleAdminAuthorRole(c echo.Context) error {
	au, err := a.Authors.SetRole(c.Request().Context(), SessionFrom(c), c.Param("id"), content.Role(c.FormValue("role")))
	if err != nil {
		return redirectBack(c, "/admin/authors/", err)
	}
	return redirectMsg(c, "/admin/authors/", au.Name+" is now "+string(au.Role))
}

func (a *App) handleAdminAudit(c echo.Context) error {
	entries, err := a.Content.ListAudit(c.Request().Context(), auditLimit)
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminAudit(views.AdminAuditPage{
		Page:    a.page(c, "Audit log"),
		Entries: entries,
	}))
}

func (a *App) handleAdminAnalytics(c echo.Context) error {
	ctx := c.Request().Context()
	period, r := analytics.ParsePeriod(c.QueryParam("period"), time.Now())
	summary, err := a.Analytics.Summary(ctx, r, 20)
	if err != nil {
		return err
	}
	aggs, err := a.Analytics.Aggregates(ctx, "", r.From, r.To)
	if err != nil {
		return err
	}
	return Render(c, a.Views.AdminAnalytics(views.AdminAnalyticsPage{
		Page:       a.page(c, "Analytics"),
		Period:     period,
		Periods:    analyticsPeriods,
		Summary:    summary,
		Aggregates: aggs,
	}))
}

// handleRollup runs the daily aggregation for yesterday and today now
// instead of waiting for the schedule.
func (a *App) handleRollup(c echo.Context) error {
	if err := a.scheduler.RunOnce(c.Request().Context()); err != nil {
		return err
	}
	a.logger(c).Info().Msg("analytics rollup run on demand")
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
