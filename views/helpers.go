package views

import (
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/eringen/pubdesk/content"
)

// buildURL joins path segments onto a base URL, ensuring a trailing slash.
func buildURL(base string, pathSegments ...string) string {
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

// PostPath is the site-relative URL of a post.
func PostPath(slug string) string { return "/post/" + url.PathEscape(slug) + "/" }

// CategoryPath is the site-relative URL of a category listing.
func CategoryPath(c content.Category) string { return "/category/" + url.PathEscape(string(c)) + "/" }

// AuthorPath is the site-relative URL of an author page.
func AuthorPath(id string) string { return "/author/" + url.PathEscape(id) + "/" }

// CategoryClass returns CSS classes for a category pill, with active variant.
func CategoryClass(active bool) string {
	base := "pill"
	if active {
		base += " pill-active"
	}
	return base
}

// StatusClass returns the badge class for a post status.
func StatusClass(s content.PostStatus) string {
	return "badge badge-" + string(s)
}

// FormatDate renders t as "Jan 2, 2006", or an empty string for nil.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("Jan 2, 2006")
}

// FormatTime renders t in UTC for admin tables.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// Initials returns up to two uppercase initials of name, for avatar
// placeholders.
func Initials(name string) string {
	var b strings.Builder
	for _, f := range strings.Fields(name) {
		for _, r := range f {
			b.WriteString(strings.ToUpper(string(r)))
			break
		}
		if b.Len() >= 2 {
			break
		}
	}
	return b.String()
}
