package views

import (
	"github.com/eringen/pubdesk/analytics"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/moderation"
)

// SiteConfig holds the site-wide settings every page needs.
type SiteConfig struct {
	Name        string
	URL         string
	Description string
}

// PageMeta carries per-page OpenGraph and SEO metadata into the <head> template.
type PageMeta struct {
	Title       string
	Description string
	URL         string // canonical + og:url
	OGType      string // "website" or "article"
}

// Viewer describes the signed-in user, if any, for navigation and notices.
type Viewer struct {
	SignedIn bool
	Name     string
	Email    string
	AuthorID string
	Role     content.Role
	Approved bool
}

func (v Viewer) Contributor() bool { return v.SignedIn && v.Approved && v.Role.AtLeast(content.RoleAuthor) }
func (v Viewer) Editor() bool      { return v.SignedIn && v.Approved && v.Role.AtLeast(content.RoleEditor) }
func (v Viewer) Admin() bool       { return v.SignedIn && v.Approved && v.Role.AtLeast(content.RoleAdmin) }

// Page is embedded in every page model.
type Page struct {
	Site   SiteConfig
	Meta   PageMeta
	Viewer Viewer
	CSRF   string
	Flash  string
}

type HomePage struct {
	Page
	Featured   *content.PostWithAuthor
	Recent     []content.PostWithAuthor
	Categories []content.Category
}

type PostPage struct {
	Page
	Post           content.PostWithAuthor
	Related        []content.PostWithAuthor
	ReadingMinutes int
	// Preview is set when an editor or the author views an unpublished
	// post. Previews are not tracked.
	Preview bool
}

type CategoryPage struct {
	Page
	Category content.Category
	Posts    []content.PostWithAuthor
}

type AuthorPage struct {
	Page
	Author content.Author
	Posts  []content.PostWithAuthor
}

type ApplyPage struct {
	Page
	Form      moderation.Application
	Errors    map[string]string
	Submitted bool
}

type LoginPage struct {
	Page
	Email  string
	Name   string
	Error  string
	Signup bool
	Next   string
	Claim  string
}

type DashboardPage struct {
	Page
	Author      *content.Author
	Posts       []content.PostWithAuthor
	Counts      content.PostCounts
	SelfPublish bool
}

type WritePage struct {
	Page
	Draft      moderation.Draft
	Status     content.PostStatus
	Errors     map[string]string
	Categories []content.Category
}

type ProfilePage struct {
	Page
	Profile moderation.Profile
	Errors  map[string]string
}

type AdminHomePage struct {
	Page
	Counts              content.PostCounts
	Authors             int
	PendingApplications int
	Recent              []analytics.Activity
}

type AdminPostsPage struct {
	Page
	Posts    []content.PostWithAuthor
	Filter   content.PostFilter
	Statuses []content.PostStatus
}

type AdminApplicationsPage struct {
	Page
	Pending  []content.Submission
	Reviewed []content.Submission
	// Invitation is the sign-up link for an application approved in this
	// request. It is shown once and never put in a URL.
	Invitation string
}

type AdminAuthorsPage struct {
	Page
	Authors []content.Author
	Roles   []content.Role
}

type AdminAnalyticsPage struct {
	Page
	Period     string
	Periods    []string
	Summary    *analytics.Summary
	Aggregates []analytics.Aggregate
}

type AdminAuditPage struct {
	Page
	Entries []content.AuditEntry
}

type ErrorPage struct {
	Page
	Code    int
	Message string
}
