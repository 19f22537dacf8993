// Package views holds the default pages of a pubdesk site. Each page is a
// templ.Component built from an embedded html/template, so a site can
// replace any of them with its own templ components.
package views

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"

	"github.com/a-h/templ"

	"github.com/eringen/pubdesk/analytics"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/richtext"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

var funcs = template.FuncMap{
	"postPath":     PostPath,
	"categoryPath": CategoryPath,
	"authorPath":   AuthorPath,
	"pillClass":    CategoryClass,
	"statusClass":  StatusClass,
	"date":         FormatDate,
	"timestamp":    FormatTime,
	"initials":     Initials,
	"absURL":       buildURL,
	"body": func(s string) template.HTML {
		return template.HTML(richtext.Sanitize(s))
	},
	"eventLabel": func(t analytics.EventType) string { return t.Label() },
	"total": func(totals map[analytics.EventType]int, t analytics.EventType) int {
		return totals[t]
	},
	"eventTypes": func() []analytics.EventType { return analytics.EventTypes },
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"avgTime": func(v *float64) string {
		if v == nil {
			return "-"
		}
		return fmt.Sprintf("%.0fs", *v)
	},
	"roleAtLeast": func(r, min content.Role) bool { return r.AtLeast(min) },
	"eq":          func(a, b any) bool { return fmt.Sprint(a) == fmt.Sprint(b) },
}

var pages = mustParse()

func mustParse() map[string]*template.Template {
	base := template.Must(template.New("layout").Funcs(funcs).ParseFS(templateFS, layoutFile))
	entries, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}
	out := make(map[string]*template.Template, len(entries))
	for _, name := range entries {
		if name == layoutFile {
			continue
		}
		t := template.Must(template.Must(base.Clone()).ParseFS(templateFS, name))
		out[strings.TrimSuffix(strings.TrimPrefix(name, "templates/"), ".html")] = t
	}
	return out
}

func page(name string, data any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		t, ok := pages[name]
		if !ok {
			return fmt.Errorf("views: unknown page %q", name)
		}
		return t.ExecuteTemplate(w, "layout", data)
	})
}

func Home(p HomePage) templ.Component                           { return page("home", p) }
func Post(p PostPage) templ.Component                           { return page("post", p) }
func Category(p CategoryPage) templ.Component                   { return page("category", p) }
func Author(p AuthorPage) templ.Component                       { return page("author", p) }
func Apply(p ApplyPage) templ.Component                         { return page("apply", p) }
func Login(p LoginPage) templ.Component                         { return page("login", p) }
func Dashboard(p DashboardPage) templ.Component                 { return page("dashboard", p) }
func Write(p WritePage) templ.Component                         { return page("write", p) }
func Profile(p ProfilePage) templ.Component                     { return page("profile", p) }
func AdminHome(p AdminHomePage) templ.Component                 { return page("admin_home", p) }
func AdminPosts(p AdminPostsPage) templ.Component               { return page("admin_posts", p) }
func AdminApplications(p AdminApplicationsPage) templ.Component { return page("admin_applications", p) }
func AdminAuthors(p AdminAuthorsPage) templ.Component           { return page("admin_authors", p) }
func AdminAnalytics(p AdminAnalyticsPage) templ.Component       { return page("admin_analytics", p) }
func AdminAudit(p AdminAuditPage) templ.Component               { return page("admin_audit", p) }
func Error(p ErrorPage) templ.Component                         { return page("error", p) }
