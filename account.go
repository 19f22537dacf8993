package pubdesk

import (
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/moderation"
	"github.com/eringen/pubdesk/views"
)

func (a *App) handleLoginForm(c echo.Context) error {
	if SessionFrom(c) != nil {
		return c.Redirect(http.StatusSeeOther, safeNext(c.QueryParam("next")))
	}
	return Render(c, a.Views.Login(views.LoginPage{
		Page: a.page(c, "Sign in"),
		Next: safeNext(c.QueryParam("next")),
	}))
}

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	email := c.FormValue("email")
	next := safeNext(c.FormValue("next"))

	if !a.loginLimiter.Check(ip) {
		a.logger(c).Warn().Str("ip", ip).Msg("login rate limited")
		return a.renderLoginError(c, http.StatusTooManyRequests, views.LoginPage{Email: email, Next: next}, errRateLimited)
	}

	sess, err := a.Auth.Authenticate(c.Request().Context(), email, c.FormValue("password"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			a.loginLimiter.Record(ip)
		}
		code, _ := classify(err)
		if code >= 500 {
			return err
		}
		return a.renderLoginError(c, code, views.LoginPage{Email: email, Next: next}, err)
	}

	a.loginLimiter.Reset(ip)
	if err := setUserSession(c, sess.UserID); err != nil {
		return err
	}
	a.logger(c).Info().Str("user_id", sess.UserID).Msg("signed in")
	return c.Redirect(http.StatusSeeOther, next)
}

func (a *App) handleSignupForm(c echo.Context) error {
	if SessionFrom(c) != nil {
		return c.Redirect(http.StatusSeeOther, "/dashboard/")
	}
	return Render(c, a.Views.Login(views.LoginPage{
		Page:   a.page(c, "Create an account"),
		Signup: true,
		Email:  c.QueryParam("email"),
		Claim:  c.QueryParam("claim"),
	}))
}

func (a *App) handleSignup(c echo.Context) error {
	var in auth.Credentials
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid form")
	}
	sess, err := a.Auth.SignUp(c.Request().Context(), in)
	if err != nil {
		code, _ := classify(err)
		if code >= 500 {
			return err
		}
		return a.renderLoginError(c, code, views.LoginPage{Email: in.Email, Name: in.Name, Signup: true, Claim: in.Claim}, err)
	}
	if err := setUserSession(c, sess.UserID); err != nil {
		return err
	}
	a.logger(c).Info().Str("user_id", sess.UserID).Msg("signed up")
	return c.Redirect(http.StatusSeeOther, "/dashboard/")
}

func (a *App) renderLoginError(c echo.Context, code int, lp views.LoginPage, err error) error {
	title := "Sign in"
	if lp.Signup {
		title = "Create an account"
	}
	_, msg := classify(err)
	if fields := fieldErrors(err); len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			parts = append(parts, k+" "+fields[k])
		}
		msg = strings.Join(parts, "; ")
	}
	lp.Page = a.page(c, title)
	lp.Error = msg
	return RenderStatus(c, code, a.Views.Login(lp))
}

func (a *App) handleLogout(c echo.Context) error {
	if err := clearUserSession(c); err != nil {
		a.logger(c).Warn().Err(err).Msg("clearing session")
	}
	return c.Redirect(http.StatusSeeOther, "/")
}

func (a *App) handleApplyForm(c echo.Context) error {
	return Render(c, a.Views.Apply(views.ApplyPage{
		Page:      a.page(c, "Write for us"),
		Submitted: c.QueryParam("submitted") == "1",
	}))
}

func (a *App) handleApply(c echo.Context) error {
	var form moderation.Application
	if err := c.Bind(&form); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid form")
	}
	sub, err := a.Applications.Apply(c.Request().Context(), form)
	if err != nil {
		code, msg := classify(err)
		if code >= 500 {
			return err
		}
		p := a.page(c, "Write for us")
		p.Flash = msg
		return RenderStatus(c, code, a.Views.Apply(views.ApplyPage{
			Page:   p,
			Form:   form,
			Errors: fieldErrors(err),
		}))
	}
	a.logger(c).Info().Str("submission_id", sub.ID).Msg("application received")
	return c.Redirect(http.StatusSeeOther, "/apply/?submitted=1")
}
