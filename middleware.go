package pubdesk

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/eringen/pubdesk/auth"
)

const (
	sessionName   = "pubdesk_session"
	sessionUserID = "user_id"
)

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Pre(middleware.NonWWWRedirect())

	e.Use(middleware.RequestID())
	e.Use(a.requestLogger())
	e.Use(a.requestContextLogger)
	e.Use(middleware.Recover())

	if a.Config.MetricsEnabled {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "pubdesk",
			Registerer: a.registry,
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/metrics" || strings.HasPrefix(c.Request().URL.Path, "/public/")
			},
		}))
	}

	e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{
		Timeout: time.Duration(a.Config.RequestTimeoutSecond) * time.Second,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/admin/analytics/live"
		},
	}))

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Request().URL.Path, "/public/") ||
				c.Path() == "/admin/analytics/live" ||
				c.Path() == "/admin/analytics/export.xlsx"
		},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; script-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' https: data:; font-src 'self'; connect-src 'self' ws: wss:; frame-ancestors 'none'",
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
	}))

	e.Use(session.Middleware(a.newSessionStore()))

	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		ContextKey:  middleware.DefaultCSRFConfig.ContextKey,
		TokenLookup: "header:X-CSRF-Token,form:_csrf",
		CookieName:  "_csrf",
		CookiePath:  "/",
		CookieSameSite: func() http.SameSite {
			return http.SameSiteLaxMode
		}(),
		CookieSecure:   a.Config.CookieSecure,
		CookieHTTPOnly: true,
		Skipper:        csrfSkipper,
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "Invalid or missing CSRF token")
		},
	}))

	e.Use(a.loadSession)

	e.Use(middleware.AddTrailingSlashWithConfig(middleware.TrailingSlashConfig{
		RedirectCode: http.StatusMovedPermanently,
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasPrefix(path, "/public") ||
				strings.HasPrefix(path, "/api/") ||
				strings.HasPrefix(path, "/admin/analytics/export") ||
				strings.HasPrefix(path, "/admin/analytics/live") ||
				strings.HasPrefix(path, "/admin/analytics/stats") ||
				path == "/sitemap.xml" || path == "/feed.xml" || path == "/robots.txt" ||
				path == "/healthz" || path == "/metrics"
		},
	}))

	e.Use(cacheControlMiddleware)
}

// csrfSkipper exempts requests that carry no ambient browser credentials:
// the analytics beacon, bearer-token API calls and API calls without a
// session cookie.
func csrfSkipper(c echo.Context) bool {
	req := c.Request()
	path := req.URL.Path
	if path == "/api/analytics" || path == "/api/analytics/" {
		return true
	}
	if !strings.HasPrefix(path, "/api/") {
		return false
	}
	if bearerToken(req) != "" {
		return true
	}
	_, err := req.Cookie(sessionName)
	return err != nil
}

func cacheControlMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		path := c.Request().URL.Path
		h := c.Response().Header()
		switch {
		case path == "/public/analytics.js" || path == "/public/admin-live.js":
			h.Set("Cache-Control", "public, max-age=3600")
		case strings.HasPrefix(path, "/public/"):
			h.Set("Cache-Control", "public, max-age=31536000, immutable")
		case path == "/sitemap.xml" || path == "/feed.xml" || path == "/robots.txt":
			h.Set("Cache-Control", "public, max-age=86400")
		case auth.FromContext(c.Request().Context()) != nil,
			strings.HasPrefix(path, "/admin"), strings.HasPrefix(path, "/dashboard"),
			strings.HasPrefix(path, "/api/"), strings.HasPrefix(path, "/login"),
			strings.HasPrefix(path, "/signup"), strings.HasPrefix(path, "/apply"):
			h.Set("Cache-Control", "no-store")
		default:
			h.Set("Cache-Control", "public, max-age=300")
		}
		return next(c)
	}
}

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   60 * 60 * 24 * 7,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get(echo.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// loadSession resolves the caller from a bearer token or the session
// cookie and stores the auth.Session in the request context. A stale
// cookie is treated as anonymous; an invalid bearer token is rejected.
func (a *App) loadSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		ctx := req.Context()

		var userID string
		if token := bearerToken(req); token != "" {
			claims, err := a.Tokens.Parse(token)
			if err != nil {
				return err
			}
			userID = claims.UserID
		} else if s, err := session.Get(sessionName, c); err == nil {
			userID, _ = s.Values[sessionUserID].(string)
		}
		if userID == "" {
			return next(c)
		}

		sess, err := a.Auth.Load(ctx, userID)
		switch {
		case errors.Is(err, auth.ErrUnauthenticated):
			if bearerToken(req) != "" {
				return err
			}
			return next(c)
		case err != nil:
			return err
		}
		c.SetRequest(req.WithContext(auth.NewContext(ctx, sess)))
		return next(c)
	}
}

// require rejects callers that do not meet req before the handler runs.
// Handlers and workflows still re-check.
func require(req auth.Requirement) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := auth.RequireRole(auth.FromContext(c.Request().Context()), req).Err(); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// signedIn rejects anonymous callers but lets unapproved accounts through.
func signedIn(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if auth.FromContext(c.Request().Context()) == nil {
			return auth.ErrUnauthenticated
		}
		return next(c)
	}
}

func setUserSession(c echo.Context, userID string) error {
	// A cookie that no longer decodes yields a fresh session and an error.
	sess, err := session.Get(sessionName, c)
	if sess == nil {
		return err
	}
	sess.Values[sessionUserID] = userID
	return sess.Save(c.Request(), c.Response())
}

func clearUserSession(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if sess == nil {
		return err
	}
	delete(sess.Values, sessionUserID)
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// CsrfToken extracts the CSRF token from the Echo context.
func CsrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}

// SessionFrom returns the caller's session, or nil when anonymous.
func SessionFrom(c echo.Context) *auth.Session {
	return auth.FromContext(c.Request().Context())
}
