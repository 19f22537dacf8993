package pubdesk

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/moderation"
	"github.com/eringen/pubdesk/richtext"
)

const apiPageLimit = 100

type tokenResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	Session   *auth.Session `json:"session"`
}

type postResponse struct {
	content.PostWithAuthor
	ReadingMinutes int `json:"reading_minutes"`
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Count  int `json:"count"`
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

func newList[T any](items []T, limit, offset int) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items), Limit: limit, Offset: offset}
}

type approvalResponse struct {
	Author     *content.Author `json:"author"`
	ClaimToken string          `json:"claim_token"`
	SignupURL  string          `json:"signup_url"`
}

type rejectRequest struct {
	Note string `json:"note" form:"note"`
}

type featureRequest struct {
	Featured bool `json:"featured"`
}

// authorUpdate changes an author's access. Nil fields are left alone.
type authorUpdate struct {
	Approved *bool        `json:"approved"`
	Role     content.Role `json:"role"`
}

func (a *App) setupAPIRoutes() {
	e := a.Echo
	api := e.Group("/api")

	if a.Config.AnalyticsEnabled {
		api.POST("/analytics", a.analyticsHandler.Ingest)
	}

	api.GET("/posts", a.apiListPosts)
	api.GET("/posts/:slug", a.apiGetPost)
	api.POST("/applications", a.apiApply)
	api.POST("/auth/signup", a.apiSignup)
	api.POST("/auth/token", a.apiToken)

	api.GET("/me", a.apiMe, signedIn)
	api.GET("/me/posts", a.apiMyPosts, signedIn)
	api.PUT("/me/profile", a.apiUpdateProfile, signedIn)
	api.POST("/posts", a.apiCreatePost, require(auth.Contributor))
	api.PUT("/posts/:id", a.apiUpdatePost, require(auth.Contributor))
	api.POST("/posts/:id/submit", a.apiSubmitPost, require(auth.Contributor))
	api.POST("/media", a.apiMediaUpload, require(auth.Contributor))

	adm := api.Group("/admin", require(auth.Editor))
	adm.GET("/posts", a.apiAdminPosts)
	adm.POST("/posts/:id/publish", a.apiPublish)
	adm.POST("/posts/:id/reject", a.apiReject)
	adm.PUT("/posts/:id/featured", a.apiFeature, require(auth.Admin))
	adm.DELETE("/posts/:id", a.apiDelete, require(auth.Admin))
	adm.GET("/applications", a.apiApplications)
	adm.POST("/applications/:id/approve", a.apiApprove)
	adm.POST("/applications/:id/reject", a.apiRejectApplication)
	adm.GET("/authors", a.apiAuthors, require(auth.Admin))
	adm.PATCH("/authors/:id", a.apiUpdateAuthor, require(auth.Admin))
	adm.GET("/audit", a.apiAudit, require(auth.Admin))
	adm.GET("/analytics", a.analyticsHandler.Stats)
	adm.POST("/analytics/rollup", a.handleRollup, require(auth.Admin))
}

func (a *App) apiListPosts(c echo.Context) error {
	f := content.PostFilter{
		Category: content.Category(c.QueryParam("category")),
		AuthorID: c.QueryParam("author"),
		Search:   c.QueryParam("q"),
		Limit:    queryInt(c.QueryParam("limit"), 20, apiPageLimit),
		Offset:   queryInt(c.QueryParam("offset"), 0, 0),
	}
	if f.Category != "" && !f.Category.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown category")
	}
	posts, err := a.Content.ListPublished(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(posts, f.Limit, f.Offset))
}

func (a *App) apiGetPost(c echo.Context) error {
	post, err := a.Cache.Get(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, postResponse{PostWithAuthor: *post, ReadingMinutes: richtext.ReadingTime(post.Body)})
}

func (a *App) apiApply(c echo.Context) error {
	var in moderation.Application
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	sub, err := a.Applications.Apply(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sub)
}

func (a *App) apiSignup(c echo.Context) error {
	var in auth.Credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	sess, err := a.Auth.SignUp(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return a.issueToken(c, http.StatusCreated, sess)
}

func (a *App) apiToken(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return errRateLimited
	}
	var in auth.Credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	sess, err := a.Auth.Authenticate(c.Request().Context(), in.Email, in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.loginLimiter.Record(ip)
		}
		return err
	}
	a.loginLimiter.Reset(ip)
	return a.issueToken(c, http.StatusOK, sess)
}

func (a *App) issueToken(c echo.Context, code int, sess *auth.Session) error {
	token, exp, err := a.Tokens.Issue(sess)
	if err != nil {
		return err
	}
	return c.JSON(code, tokenResponse{Token: token, ExpiresAt: exp, Session: sess})
}

func (a *App) apiMe(c echo.Context) error {
	return c.JSON(http.StatusOK, SessionFrom(c))
}

func (a *App) apiMyPosts(c echo.Context) error {
	id := SessionFrom(c).AuthorID()
	if id == "" {
		return c.JSON(http.StatusOK, newList[content.PostWithAuthor](nil, 0, 0))
	}
	f := content.PostFilter{
		AuthorID: id,
		Status:   content.PostStatus(c.QueryParam("status")),
		Limit:    queryInt(c.QueryParam("limit"), apiPageLimit, apiPageLimit),
		Offset:   queryInt(c.QueryParam("offset"), 0, 0),
	}
	if !f.Status.Valid() {
		f.Status = ""
	}
	posts, err := a.Content.ListPosts(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(posts, f.Limit, f.Offset))
}

func (a *App) apiUpdateProfile(c echo.Context) error {
	var in moderation.Profile
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	au, err := a.Authors.UpdateProfile(c.Request().Context(), SessionFrom(c), in)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, au)
}

func (a *App) apiCreatePost(c echo.Context) error {
	var d moderation.Draft
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	d.ID = ""
	p, err := a.Posts.SaveDraft(c.Request().Context(), SessionFrom(c), d)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (a *App) apiUpdatePost(c echo.Context) error {
	var d moderation.Draft
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	d.ID = c.Param("id")
	p, err := a.Posts.SaveDraft(c.Request().Context(), SessionFrom(c), d)
	if err != nil {
		return err
	}
	if p.Status == content.StatusPublished {
		a.Cache.Invalidate()
	}
	return c.JSON(http.StatusOK, p)
}

func (a *App) apiSubmitPost(c echo.Context) error {
	p, err := a.Posts.Submit(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	if p.Status == content.StatusPublished {
		a.Cache.Invalidate()
	}
	return c.JSON(http.StatusOK, p)
}

func (a *App) apiAdminPosts(c echo.Context) error {
	f := adminPostFilter(c)
	posts, err := a.Content.ListPosts(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(posts, f.Limit, f.Offset))
}

func (a *App) apiPublish(c echo.Context) error {
	p, err := a.Posts.Publish(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, p)
}

func (a *App) apiReject(c echo.Context) error {
	var in rejectRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	p, err := a.Posts.RejectToDraft(c.Request().Context(), SessionFrom(c), c.Param("id"), in.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (a *App) apiFeature(c echo.Context) error {
	var in featureRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	p, err := a.Posts.SetFeatured(c.Request().Context(), SessionFrom(c), c.Param("id"), in.Featured)
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, p)
}

func (a *App) apiDelete(c echo.Context) error {
	if err := a.Posts.Delete(c.Request().Context(), SessionFrom(c), c.Param("id")); err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.NoContent(http.StatusNoContent)
}

func (a *App) apiApplications(c echo.Context) error {
	status := content.SubmissionStatus(c.QueryParam("status"))
	if status == "" {
		status = content.SubmissionPending
	}
	switch status {
	case content.SubmissionPending, content.SubmissionApproved, content.SubmissionRejected:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "Unknown status")
	}
	subs, err := a.Content.ListSubmissions(c.Request().Context(), status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(subs, 0, 0))
}

func (a *App) apiApprove(c echo.Context) error {
	ap, err := a.Applications.Approve(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	a.Cache.Invalidate()
	return c.JSON(http.StatusOK, approvalResponse{
		Author:     ap.Author,
		ClaimToken: ap.ClaimToken,
		SignupURL:  a.invitationURL(ap),
	})
}

func (a *App) apiRejectApplication(c echo.Context) error {
	sub, err := a.Applications.Reject(c.Request().Context(), SessionFrom(c), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sub)
}

func (a *App) apiAuthors(c echo.Context) error {
	authors, err := a.Content.ListAuthors(c.Request().Context(), c.QueryParam("approved") == "true")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(authors, 0, 0))
}

func (a *App) apiUpdateAuthor(c echo.Context) error {
	var in authorUpdate
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body")
	}
	if in.Approved == nil && in.Role == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Nothing to update")
	}
	ctx := c.Request().Context()
	sess := SessionFrom(c)
	id := c.Param("id")

	var (
		au  *content.Author
		err error
	)
	if in.Role != "" {
		if au, err = a.Authors.SetRole(ctx, sess, id, in.Role); err != nil {
			return err
		}
	}
	if in.Approved != nil {
		if au, err = a.Authors.SetApproved(ctx, sess, id, *in.Approved); err != nil {
			return err
		}
		a.Cache.Invalidate()
	}
	return c.JSON(http.StatusOK, au)
}

func (a *App) apiAudit(c echo.Context) error {
	limit := queryInt(c.QueryParam("limit"), auditLimit, 1000)
	entries, err := a.Content.ListAudit(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newList(entries, limit, 0))
}
