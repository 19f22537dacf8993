package pubdesk

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/media"
	"github.com/eringen/pubdesk/moderation"
	"github.com/eringen/pubdesk/views"
)

// errRateLimited is returned by handlers that throttle callers.
var errRateLimited = errors.New("too many requests")

type apiError struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// classify maps an error to a status code and a message safe to show to
// the caller. Server errors get a generic message.
func classify(err error) (int, string) {
	var verrs validation.Errors
	var he *echo.HTTPError
	switch {
	case errors.As(err, &verrs):
		return http.StatusBadRequest, "Please correct the highlighted fields"
	case errors.Is(err, media.ErrInvalidImage):
		return http.StatusBadRequest, "The file is not a supported image"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "Please sign in to continue"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "You do not have permission to do that"
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound, "Page not found"
	case errors.Is(err, content.ErrSlugTaken):
		return http.StatusConflict, "That slug is already used by another post"
	case errors.Is(err, auth.ErrClaimRequired):
		return http.StatusConflict, "That email belongs to an approved author. Use the sign-up link you were sent on approval."
	case errors.Is(err, moderation.ErrAccountExists):
		return http.StatusConflict, "An account already uses that email. Confirm it belongs to the applicant, then approve it on the Authors page."
	case errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict, "An account with that email already exists"
	case errors.Is(err, content.ErrDuplicate):
		return http.StatusConflict, "That already exists"
	case errors.Is(err, moderation.ErrAlreadyReviewed):
		return http.StatusConflict, "That application has already been reviewed"
	case errors.Is(err, moderation.ErrInvalidTransition):
		return http.StatusConflict, conflictMessage(err)
	case errors.Is(err, errRateLimited):
		return http.StatusTooManyRequests, "Too many requests. Try again later."
	case errors.As(err, &he):
		msg, ok := he.Message.(string)
		if !ok || msg == "" {
			msg = http.StatusText(he.Code)
		}
		return he.Code, msg
	}
	return http.StatusInternalServerError, "Something went wrong"
}

// conflictMessage exposes the transition detail, which names the current
// status and the refused action.
func conflictMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, moderation.ErrInvalidTransition.Error()+": "); i >= 0 {
		msg = msg[i+len(moderation.ErrInvalidTransition.Error())+2:]
	}
	if msg == "" {
		return "That change is not allowed"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

// fieldErrors flattens ozzo validation errors for forms and JSON bodies.
func fieldErrors(err error) map[string]string {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for k, v := range verrs {
		out[k] = v.Error()
	}
	return out
}

func isAPI(c echo.Context) bool {
	return strings.HasPrefix(c.Request().URL.Path, "/api/")
}

// logger returns the request-scoped logger, falling back to the app logger
// before the logging middleware has run.
func (a *App) logger(c echo.Context) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request().Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &a.Log
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := classify(err)
	if code >= 500 {
		a.logger(c).Error().Err(err).
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Msg("server error")
	}

	if isAPI(c) {
		_ = c.JSON(code, apiError{Error: msg, Fields: fieldErrors(err)})
		return
	}
	if code == http.StatusUnauthorized && c.Request().Method == http.MethodGet {
		_ = c.Redirect(http.StatusSeeOther, "/login/?next="+url.QueryEscape(c.Request().URL.RequestURI()))
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = RenderStatus(c, code, a.Views.Error(views.ErrorPage{
		Page:    a.page(c, http.StatusText(code)),
		Code:    code,
		Message: msg,
	}))
}

// redirectBack finishes a form post that failed with a domain error by
// sending the user to target with the error as a notice. Server errors are
// returned for the error handler to log.
func redirectBack(c echo.Context, target string, err error) error {
	code, msg := classify(err)
	if code >= 500 || code == http.StatusUnauthorized {
		return err
	}
	return redirectMsg(c, target, msg)
}

// redirectMsg redirects to target with a flash message in ?msg=.
func redirectMsg(c echo.Context, target, msg string) error {
	u, err := url.Parse(target)
	if err != nil {
		return c.Redirect(http.StatusSeeOther, target)
	}
	q := u.Query()
	q.Set("msg", msg)
	u.RawQuery = q.Encode()
	return c.Redirect(http.StatusSeeOther, u.String())
}
