package pubdesk

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/moderation"
	"github.com/eringen/pubdesk/views"
)

// BuildURL joins a base URL with path segments, ensuring a trailing slash.
func BuildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path.Join(u.Path, path.Join(pathSegments...))
	if len(pathSegments) > 0 && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// viewerFor turns a session into the navigation model pages render.
func viewerFor(sess *auth.Session) views.Viewer {
	if sess == nil {
		return views.Viewer{}
	}
	v := views.Viewer{SignedIn: true, Email: sess.Email, Name: sess.Email}
	if a := sess.Author; a != nil {
		v.Name = a.Name
		v.AuthorID = a.ID
		v.Role = a.Role
		v.Approved = a.Approved
	}
	return v
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/dashboard/"
	}
	return next
}

// queryInt parses a non-negative integer query value, or returns def.
func queryInt(v string, def, max int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}

// invitationURL is the sign-up link that lets an approved applicant claim
// their author profile.
func (a *App) invitationURL(ap *moderation.Approval) string {
	q := url.Values{"email": {ap.Author.Email}, "claim": {ap.ClaimToken}}
	return BuildURL(a.Config.URL, "signup") + "?" + q.Encode()
}
