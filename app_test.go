package pubdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/database/dbtest"
	"github.com/eringen/pubdesk/moderation"
)

const (
	testCSRF     = "test-csrf-token-0123456789"
	testPassword = "correct-horse-battery"
)

func newTestApp(t *testing.T, tweak ...func(*SiteConfig)) *App {
	t.Helper()
	cfg := SiteConfig{
		Name:             "Test Desk",
		URL:              "https://desk.example",
		Description:      "Notes from the people desk",
		Env:              "test",
		SessionSecret:    "0123456789abcdef-test-secret",
		AnalyticsEnabled: true,
		MetricsEnabled:   true,
		MediaDir:         t.TempDir(),
	}
	for _, fn := range tweak {
		fn(&cfg)
	}
	a := New(cfg, ViewFuncs{},
		WithDB(dbtest.Open(t)),
		WithLogger(zerolog.Nop()),
		WithStaticDir(t.TempDir()),
	)
	require.NoError(t, a.Setup(context.Background()))
	a.Auth.SetHashCost(bcrypt.MinCost)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// member creates an approved user with role.
func member(t *testing.T, a *App, name string, role content.Role) *auth.Session {
	t.Helper()
	ctx := context.Background()
	email := strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@desk.example"
	sess, err := a.Auth.SignUp(ctx, auth.Credentials{Email: email, Password: testPassword, Name: name})
	require.NoError(t, err)
	require.NoError(t, a.Content.SetAuthorAccess(ctx, sess.Author.ID, true, role, time.Now()))
	sess, err = a.Auth.Load(ctx, sess.UserID)
	require.NoError(t, err)
	return sess
}

// publish writes and self-publishes a post as an editor.
func publish(t *testing.T, a *App, editor *auth.Session, title string) *content.Post {
	t.Helper()
	ctx := context.Background()
	p, err := a.Posts.SaveDraft(ctx, editor, moderation.Draft{
		Title:    title,
		Body:     "<p>" + title + " body with enough words to read.</p>",
		Category: content.CategoryTalent,
	})
	require.NoError(t, err)
	p, err = a.Posts.Submit(ctx, editor, p.ID)
	require.NoError(t, err)
	require.Equal(t, content.StatusPublished, p.Status)
	a.Cache.Invalidate()
	return p
}

// client drives the app through Echo and keeps cookies between requests.
type client struct {
	t       *testing.T
	app     *App
	cookies map[string]*http.Cookie
	bearer  string
}

func newClient(t *testing.T, a *App) *client {
	return &client{t: t, app: a, cookies: map[string]*http.Cookie{
		"_csrf": {Name: "_csrf", Value: testCSRF},
	}}
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	if c.bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+c.bearer)
	}
	rec := httptest.NewRecorder()
	c.app.Echo.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck
	}
	return rec
}

func (c *client) get(target string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (c *client) form(target string, v url.Values) *httptest.ResponseRecorder {
	if v == nil {
		v = url.Values{}
	}
	v.Set("_csrf", testCSRF)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(v.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return c.do(req)
}

func (c *client) json(method, target string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-CSRF-Token", testCSRF)
	return c.do(req)
}

func (c *client) login(sess *auth.Session) {
	c.t.Helper()
	rec := c.form("/login/", url.Values{"email": {sess.Email}, "password": {testPassword}, "next": {"/dashboard/"}})
	require.Equal(c.t, http.StatusSeeOther, rec.Code, rec.Body.String())
	require.Contains(c.t, c.cookies, sessionName)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPublicPages(t *testing.T) {
	a := newTestApp(t)
	editor := member(t, a, "Eda Editor", content.RoleEditor)
	post := publish(t, a, editor, "Hiring in a downturn")
	c := newClient(t, a)

	rec := c.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hiring in a downturn")

	rec = c.get("/post/" + post.Slug + "/")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-post-id="`+post.ID+`"`)
	assert.Contains(t, body, "/public/analytics.js")
	assert.Contains(t, body, `<link rel="canonical" href="https://desk.example/post/hiring-in-a-downturn/"`)

	rec = c.get("/category/talent/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Hiring in a downturn")

	rec = c.get("/author/" + editor.Author.ID + "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Eda Editor")

	assert.Equal(t, http.StatusNotFound, c.get("/post/nope/").Code)
	assert.Equal(t, http.StatusNotFound, c.get("/category/nope/").Code)
	assert.Equal(t, http.StatusNotFound, c.get("/author/nope/").Code)
}

func TestTrailingSlashRedirect(t *testing.T) {
	a := newTestApp(t)
	rec := newClient(t, a).get("/apply")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/apply/", rec.Header().Get(echo.HeaderLocation))
}

func TestDraftPreviewOnlyForEditors(t *testing.T) {
	a := newTestApp(t)
	writer := member(t, a, "Wren Writer", content.RoleAuthor)
	p, err := a.Posts.SaveDraft(context.Background(), writer, moderation.Draft{
		Title: "Work in progress", Body: "<p>Not yet</p>", Category: content.CategoryHR,
	})
	require.NoError(t, err)

	anon := newClient(t, a)
	assert.Equal(t, http.StatusNotFound, anon.get("/post/"+p.Slug+"/").Code)

	other := newClient(t, a)
	other.login(member(t, a, "Otto Other", content.RoleAuthor))
	assert.Equal(t, http.StatusNotFound, other.get("/post/"+p.Slug+"/").Code)

	own := newClient(t, a)
	own.login(writer)
	rec := own.get("/post/" + p.Slug + "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Preview: this post is draft")
	assert.NotContains(t, rec.Body.String(), "/public/analytics.js")
}

func TestLoginFlow(t *testing.T) {
	a := newTestApp(t)
	writer := member(t, a, "Lee Login", content.RoleAuthor)
	c := newClient(t, a)

	rec := c.get("/dashboard/")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login/?next=%2Fdashboard%2F", rec.Header().Get(echo.HeaderLocation))

	rec = c.form("/login/", url.Values{"email": {writer.Email}, "password": {"wrong-password"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password")

	rec = c.form("/login/", url.Values{"email": {writer.Email}, "password": {testPassword}, "next": {"//evil.example"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard/", rec.Header().Get(echo.HeaderLocation))

	rec = c.get("/dashboard/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your posts")
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = c.form("/logout/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, http.StatusSeeOther, c.get("/dashboard/").Code)
}

func TestLoginRateLimited(t *testing.T) {
	a := newTestApp(t, func(cfg *SiteConfig) { cfg.LoginAttemptsPerMin = 2 })
	writer := member(t, a, "Rita Rate", content.RoleAuthor)
	c := newClient(t, a)

	for i := 0; i < 2; i++ {
		rec := c.form("/login/", url.Values{"email": {writer.Email}, "password": {"nope-nope"}})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := c.form("/login/", url.Values{"email": {writer.Email}, "password": {testPassword}})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSignupCreatesUnapprovedAccount(t *testing.T) {
	a := newTestApp(t)
	c := newClient(t, a)

	rec := c.form("/signup/", url.Values{"name": {"Nia New"}, "email": {"nia@desk.example"}, "password": {"short"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "password")

	rec = c.form("/signup/", url.Values{"name": {"Nia New"}, "email": {"nia@desk.example"}, "password": {testPassword}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = c.get("/dashboard/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "waiting for editor approval")
	assert.Equal(t, http.StatusForbidden, c.get("/dashboard/write/").Code)

	rec = newClient(t, a).form("/signup/", url.Values{"name": {"Nia Again"}, "email": {"NIA@desk.example"}, "password": {testPassword}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestFormsRequireCSRF(t *testing.T) {
	a := newTestApp(t)
	v := url.Values{"name": {"Ann Applicant"}, "email": {"ann@desk.example"}}
	req := httptest.NewRequest(http.MethodPost, "/apply/", strings.NewReader(v.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestApplyAndApprove(t *testing.T) {
	a := newTestApp(t)
	c := newClient(t, a)

	rec := c.form("/apply/", url.Values{"name": {"Ann Applicant"}, "email": {"not-an-email"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ann Applicant", "the form keeps its values")

	rec = c.form("/apply/", url.Values{
		"name": {"Ann Applicant"}, "email": {"ann@desk.example"},
		"organization": {"Acme"}, "reason": {"I run hiring"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/apply/?submitted=1", rec.Header().Get(echo.HeaderLocation))

	subs, err := a.Content.ListSubmissions(context.Background(), content.SubmissionPending)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	writer := newClient(t, a)
	writer.login(member(t, a, "Wes Writer", content.RoleAuthor))
	rec = writer.form("/admin/applications/"+subs[0].ID+"/approve/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	editor := newClient(t, a)
	editor.login(member(t, a, "Eve Editor", content.RoleEditor))
	rec = editor.get("/admin/applications/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ann Applicant")

	rec = editor.form("/admin/applications/"+subs[0].ID+"/approve/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Approved Ann Applicant")
	invitation := invitationFrom(t, rec.Body.String())
	assert.Equal(t, "ann@desk.example", invitation.Query().Get("email"))

	rec = editor.form("/admin/applications/"+subs[0].ID+"/reject/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "already+been+reviewed")

	au, err := a.Content.GetAuthorByEmail(context.Background(), "ann@desk.example")
	require.NoError(t, err)
	assert.True(t, au.Approved)
	assert.Equal(t, content.RoleAuthor, au.Role)
	assert.Nil(t, au.UserID)

	// A stranger who knows the address cannot claim the profile.
	rec = newClient(t, a).form("/signup/", url.Values{"name": {"Mallory"}, "email": {"ann@desk.example"}, "password": {testPassword}})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "sign-up link")

	ann := newClient(t, a)
	rec = ann.get(invitation.RequestURI())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="claim"`)
	rec = ann.form("/signup/", url.Values{
		"name": {"Ann Applicant"}, "email": {"ann@desk.example"}, "password": {testPassword},
		"claim": {invitation.Query().Get("claim")},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusOK, ann.get("/dashboard/write/").Code)
}

// invitationFrom extracts the sign-up link shown after an approval.
func invitationFrom(t *testing.T, body string) *url.URL {
	t.Helper()
	m := regexp.MustCompile(`value="(https://desk\.example/signup/\?[^"]+)"`).FindStringSubmatch(body)
	require.Len(t, m, 2, "no invitation link in page")
	u, err := url.Parse(html.UnescapeString(m[1]))
	require.NoError(t, err)
	require.NotEmpty(t, u.Query().Get("claim"))
	return u
}

func TestApproveDoesNotPromoteExistingAccount(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	squatter := newClient(t, a)
	rec := squatter.form("/signup/", url.Values{"name": {"Mallory"}, "email": {"victim@desk.example"}, "password": {testPassword}})
	require.Equal(t, http.StatusSeeOther, rec.Code)

	sub, err := a.Applications.Apply(ctx, moderation.Application{Name: "Real Applicant", Email: "victim@desk.example"})
	require.NoError(t, err)

	editor := newClient(t, a)
	editor.login(member(t, a, "Eve Editor", content.RoleEditor))
	rec = editor.form("/admin/applications/"+sub.ID+"/approve/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "Authors+page")

	assert.Equal(t, http.StatusForbidden, squatter.get("/dashboard/write/").Code)
	au, err := a.Content.GetAuthorByEmail(ctx, "victim@desk.example")
	require.NoError(t, err)
	assert.False(t, au.Approved)
	assert.Equal(t, content.RoleReader, au.Role)
}

func TestEditorialWorkflowThroughForms(t *testing.T) {
	a := newTestApp(t)
	w := newClient(t, a)
	w.login(member(t, a, "Wanda Writer", content.RoleAuthor))

	rec := w.form("/dashboard/posts/", url.Values{
		"title": {"Onboarding that works"}, "category": {"team"}, "body": {"<p>Start early.</p><script>x()</script>"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	loc, err := url.Parse(rec.Header().Get(echo.HeaderLocation))
	require.NoError(t, err)
	id := loc.Query().Get("id")
	require.NotEmpty(t, id)

	p, err := a.Content.GetPost(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, content.StatusDraft, p.Status)
	assert.Equal(t, "onboarding-that-works", p.Slug)
	assert.NotContains(t, p.Body, "<script>")

	rec = w.get("/dashboard/write/?id=" + id)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Onboarding that works")

	rec = w.form("/dashboard/posts/"+id+"/submit/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "Submitted+for+review")

	rec = w.form("/admin/posts/"+id+"/publish/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "authors cannot publish")

	ed := newClient(t, a)
	ed.login(member(t, a, "Ed Editor", content.RoleEditor))
	rec = ed.get("/admin/posts/?status=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Onboarding that works")

	// Warm the cache so publishing has to invalidate it.
	require.NotContains(t, newClient(t, a).get("/").Body.String(), "Onboarding that works")

	rec = ed.form("/admin/posts/"+id+"/publish/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, newClient(t, a).get("/").Body.String(), "Onboarding that works")

	rec = ed.form("/admin/posts/"+id+"/reject/", url.Values{"note": {"too late"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "msg=", "a published post cannot be sent back")

	rec = ed.form("/admin/posts/"+id+"/delete/", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "only admins delete")
}

func TestAdminOnlyPages(t *testing.T) {
	a := newTestApp(t)
	ed := newClient(t, a)
	ed.login(member(t, a, "Ed Editor", content.RoleEditor))
	assert.Equal(t, http.StatusOK, ed.get("/admin/").Code)
	assert.Equal(t, http.StatusOK, ed.get("/admin/analytics/").Code)
	assert.Equal(t, http.StatusForbidden, ed.get("/admin/authors/").Code)
	assert.Equal(t, http.StatusForbidden, ed.get("/admin/audit/").Code)

	admin := member(t, a, "Ada Admin", content.RoleAdmin)
	ac := newClient(t, a)
	ac.login(admin)
	rec := ac.get("/admin/authors/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ed Editor")

	writer := member(t, a, "Wyn Writer", content.RoleAuthor)
	rec = ac.form("/admin/authors/"+writer.Author.ID+"/role/", url.Values{"role": {"editor"}})
	require.Equal(t, http.StatusSeeOther, rec.Code)
	au, err := a.Content.GetAuthor(context.Background(), writer.Author.ID)
	require.NoError(t, err)
	assert.Equal(t, content.RoleEditor, au.Role)

	rec = ac.form("/admin/authors/"+admin.Author.ID+"/revoke/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderLocation), "msg=")
	au, err = a.Content.GetAuthor(context.Background(), admin.Author.ID)
	require.NoError(t, err)
	assert.True(t, au.Approved, "admins cannot revoke themselves")

	rec = ac.get("/admin/audit/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), moderation.ActionAuthorRole)
}

func TestFeatureAndDeleteAsAdmin(t *testing.T) {
	a := newTestApp(t)
	admin := member(t, a, "Ada Admin", content.RoleAdmin)
	first := publish(t, a, admin, "First story")
	publish(t, a, admin, "Second story")
	ac := newClient(t, a)
	ac.login(admin)

	rec := ac.form("/admin/posts/"+first.ID+"/feature/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	lead, _, err := a.Cache.Front(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, first.ID, lead.ID)

	rec = ac.form("/admin/posts/"+first.ID+"/delete/", nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, http.StatusNotFound, ac.get("/post/"+first.Slug+"/").Code)
}

func TestAPITokenWorkflow(t *testing.T) {
	a := newTestApp(t)
	writer := member(t, a, "Tia Token", content.RoleAuthor)
	c := newClient(t, a)

	rec := c.json(http.MethodPost, "/api/auth/token", map[string]string{"email": writer.Email, "password": "bad-password"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", decode[apiError](t, rec).Error)

	rec = c.json(http.MethodPost, "/api/auth/token", map[string]string{"email": writer.Email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	tok := decode[tokenResponse](t, rec)
	require.NotEmpty(t, tok.Token)
	c.bearer = tok.Token

	rec = c.get("/api/me")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, writer.UserID, decode[auth.Session](t, rec).UserID)

	rec = c.json(http.MethodPost, "/api/posts", map[string]string{"title": "", "category": "hr"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[apiError](t, rec).Fields, "title")

	rec = c.json(http.MethodPost, "/api/posts", map[string]string{"title": "Remote first", "category": "hr", "body": "<p>Yes.</p>"})
	require.Equal(t, http.StatusCreated, rec.Code)
	p := decode[content.Post](t, rec)
	assert.Equal(t, content.StatusDraft, p.Status)

	rec = c.json(http.MethodPut, "/api/posts/"+p.ID, map[string]string{"title": "Remote first, always", "slug": "remote-first", "category": "hr", "body": "<p>Yes.</p>"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = c.json(http.MethodPost, "/api/posts/"+p.ID+"/submit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content.StatusPending, decode[content.Post](t, rec).Status)

	rec = c.json(http.MethodPost, "/api/posts/"+p.ID+"/submit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = c.get("/api/me/posts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listResponse[content.PostWithAuthor]](t, rec).Count)

	rec = c.json(http.MethodPost, "/api/admin/posts/"+p.ID+"/publish", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIEditorEndpoints(t *testing.T) {
	a := newTestApp(t)
	writer := member(t, a, "Pat Pending", content.RoleAuthor)
	editor := member(t, a, "Ed Editor", content.RoleEditor)
	ctx := context.Background()
	p, err := a.Posts.SaveDraft(ctx, writer, moderation.Draft{Title: "Needs review", Body: "<p>Body</p>", Category: content.CategoryTeam})
	require.NoError(t, err)
	_, err = a.Posts.Submit(ctx, writer, p.ID)
	require.NoError(t, err)

	token, _, err := a.Tokens.Issue(editor)
	require.NoError(t, err)
	c := newClient(t, a)
	c.bearer = token

	rec := c.get("/api/admin/posts?status=pending")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listResponse[content.PostWithAuthor]](t, rec).Count)

	rec = c.json(http.MethodPost, "/api/admin/posts/"+p.ID+"/reject", map[string]string{"note": "needs sources"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, content.StatusDraft, decode[content.Post](t, rec).Status)

	rec = c.json(http.MethodPost, "/api/admin/posts/"+p.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, rec.Code, "drafts can be published directly by editors")

	rec = c.get("/api/posts/" + p.Slug)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Needs review", decode[postResponse](t, rec).Title)

	rec = c.get("/api/posts?category=team")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listResponse[content.PostWithAuthor]](t, rec).Count)

	rec = c.json(http.MethodDelete, "/api/admin/posts/"+p.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIErrorsAreJSON(t *testing.T) {
	a := newTestApp(t)
	c := newClient(t, a)

	rec := c.get("/api/posts/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Page not found", decode[apiError](t, rec).Error)

	rec = c.json(http.MethodPost, "/api/posts", map[string]string{"title": "x"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Please sign in to continue", decode[apiError](t, rec).Error)

	c.bearer = "not-a-token"
	rec = c.get("/api/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = newClient(t, a).get("/api/posts?category=nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIApplication(t *testing.T) {
	a := newTestApp(t)
	c := newClient(t, a)
	rec := c.json(http.MethodPost, "/api/applications", map[string]string{"name": "Jo Json", "email": "jo@desk.example"})
	require.Equal(t, http.StatusCreated, rec.Code)
	sub := decode[content.Submission](t, rec)
	assert.Equal(t, content.SubmissionPending, sub.Status)

	token, _, err := a.Tokens.Issue(member(t, a, "Ed Editor", content.RoleEditor))
	require.NoError(t, err)
	ed := newClient(t, a)
	ed.bearer = token
	rec = ed.json(http.MethodPost, "/api/admin/applications/"+sub.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[approvalResponse](t, rec)
	assert.Equal(t, "jo@desk.example", got.Author.Email)
	assert.NotEmpty(t, got.ClaimToken)
	assert.Contains(t, got.SignupURL, "https://desk.example/signup/?")

	rec = c.json(http.MethodPost, "/api/auth/signup", map[string]string{"name": "Jo Json", "email": "jo@desk.example", "password": testPassword})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = c.json(http.MethodPost, "/api/auth/signup", map[string]string{"name": "Jo Json", "email": "jo@desk.example", "password": testPassword, "claim": got.ClaimToken})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestAnalyticsIngest(t *testing.T) {
	a := newTestApp(t)
	editor := member(t, a, "Ed Editor", content.RoleEditor)
	post := publish(t, a, editor, "Tracked story")

	req := httptest.NewRequest(http.MethodPost, "/api/analytics",
		strings.NewReader(`{"event_type":"post_opened","post_id":"`+post.ID+`","meta":{"slug":"tracked-story"}}`))
	req.Header.Set(echo.HeaderContentType, "text/plain;charset=UTF-8")
	req.AddCookie(&http.Cookie{Name: "anon_id", Value: "reader-0001"})
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/analytics", strings.NewReader(`{"event_type":"bogus"}`))
	rec = httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	recent, err := a.Analytics.RecentActivity(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	ed := newClient(t, a)
	ed.login(editor)
	rec = ed.get("/admin/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Tracked story")

	rec = ed.get("/admin/analytics/stats?period=today")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unique_visitors":1`)

	rec = ed.get("/admin/analytics/export.xlsx?period=week")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), ".xlsx")
}

// track posts one tracker event the way the browser script does.
func track(t *testing.T, a *App, anonID, body string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analytics", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, "text/plain;charset=UTF-8")
	req.Header.Set(echo.HeaderUserAgent, "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_5) Safari/605.1.15")
	req.AddCookie(&http.Cookie{Name: "anon_id", Value: anonID})
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVisitorReadsPostAndRollsUp(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	post := publish(t, a, member(t, a, "Ed Editor", content.RoleEditor), "Read to the end")
	const visitor = "5e0c1a77-1111-4222-8333-944455556666"

	track(t, a, visitor, `{"event_type":"post_opened","post_id":"`+post.ID+`","meta":{"slug":"read-to-the-end","referrer":"https://news.example"}}`)
	track(t, a, visitor, `{"event_type":"post_scrolled","post_id":"`+post.ID+`","meta":{"slug":"read-to-the-end","scroll_percent":50,"time_on_page":12}}`)
	track(t, a, visitor, `{"event_type":"post_scrolled","post_id":"`+post.ID+`","meta":{"slug":"read-to-the-end","time_on_page":40,"final":true}}`)

	var rows []struct {
		Type   string  `db:"event_type"`
		AnonID *string `db:"anon_id"`
		Meta   *string `db:"meta"`
	}
	require.NoError(t, a.DB.Select(&rows, a.DB.Rebind(`SELECT event_type, anon_id, meta FROM events WHERE post_id = ? ORDER BY id`), post.ID))
	require.Len(t, rows, 3)
	opened, scrolled := 0, 0
	for _, r := range rows {
		require.NotNil(t, r.AnonID)
		assert.Equal(t, visitor, *r.AnonID)
		switch r.Type {
		case "post_opened":
			opened++
			require.NotNil(t, r.Meta)
			assert.Contains(t, *r.Meta, `"referrer":"https://news.example"`)
			assert.Contains(t, *r.Meta, `"user_agent":"Mozilla/5.0`)
		case "post_scrolled":
			scrolled++
		}
	}
	assert.Equal(t, 1, opened)
	assert.GreaterOrEqual(t, scrolled, 1)

	aggs, err := a.Analytics.RollupDay(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, aggs, 1)
	got := aggs[0]
	assert.Equal(t, post.ID, got.PostID)
	assert.Equal(t, 1, got.Views)
	assert.Equal(t, 1, got.Uniques)
	assert.Equal(t, 1, got.Scroll50)
	require.NotNil(t, got.AvgTime)
	assert.InDelta(t, 40.0, *got.AvgTime, 0.001)
}

func TestAnalyticsDisabled(t *testing.T) {
	a := newTestApp(t, func(cfg *SiteConfig) { cfg.AnalyticsEnabled = false })
	req := httptest.NewRequest(http.MethodPost, "/api/analytics", strings.NewReader(`{"event_type":"post_opened"}`))
	rec := httptest.NewRecorder()
	a.Echo.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestFeedSitemapRobotsHealth(t *testing.T) {
	a := newTestApp(t)
	editor := member(t, a, "Ed Editor", content.RoleEditor)
	publish(t, a, editor, "Feed story")
	c := newClient(t, a)

	rec := c.get("/feed.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<title>Feed story</title>")
	assert.Contains(t, rec.Body.String(), "https://desk.example/post/feed-story/")

	rec = c.get("/sitemap.xml")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "https://desk.example/post/feed-story/")
	assert.Contains(t, body, "https://desk.example/category/hr/")
	assert.Contains(t, body, "https://desk.example/author/"+editor.Author.ID+"/")

	rec = c.get("/robots.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Disallow: /admin/")
	assert.Contains(t, rec.Body.String(), "Sitemap: https://desk.example/sitemap.xml")

	rec = c.get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestEmbeddedScriptsAndMetrics(t *testing.T) {
	a := newTestApp(t)
	c := newClient(t, a)

	rec := c.get("/public/analytics.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/analytics")
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	rec = c.get("/public/admin-live.js")
	require.Equal(t, http.StatusOK, rec.Code)

	c.get("/")
	rec = c.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pubdesk_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSecurityHeaders(t *testing.T) {
	a := newTestApp(t)
	rec := newClient(t, a).get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "script-src 'self'")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}
