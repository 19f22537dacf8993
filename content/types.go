// Package content holds the publishing domain model (authors, posts, the
// contributor application queue, the audit log) and its row-level access.
// Authorization and workflow rules live in the moderation package; the Store
// here only guarantees that each conditional write is atomic.
package content

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlugTaken = errors.New("slug already in use")
	// ErrDuplicate is returned when a unique column other than a post slug
	// already holds the value being written.
	ErrDuplicate = errors.New("already exists")
)

// Role is an author's privilege level.
type Role string

const (
	RoleReader Role = "reader"
	RoleAuthor Role = "author"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// Roles lists every role from least to most privileged.
var Roles = []Role{RoleReader, RoleAuthor, RoleEditor, RoleAdmin}

// Rank orders roles; unknown roles rank below reader.
func (r Role) Rank() int {
	switch r {
	case RoleReader:
		return 1
	case RoleAuthor:
		return 2
	case RoleEditor:
		return 3
	case RoleAdmin:
		return 4
	}
	return 0
}

func (r Role) Valid() bool { return r.Rank() > 0 }

// AtLeast reports whether r is min or more privileged.
func (r Role) AtLeast(min Role) bool { return r.Valid() && r.Rank() >= min.Rank() }

// PostStatus is a post's position in the editorial workflow.
type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPending   PostStatus = "pending"
	StatusPublished PostStatus = "published"
)

func (s PostStatus) Valid() bool {
	return s == StatusDraft || s == StatusPending || s == StatusPublished
}

// Category is the closed set of sections a post can belong to.
type Category string

const (
	CategoryHR     Category = "hr"
	CategoryTalent Category = "talent"
	CategoryTeam   Category = "team"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryHR, CategoryTalent, CategoryTeam}

func (c Category) Valid() bool { return c.Label() != "" }

// Label is the human readable section name.
func (c Category) Label() string {
	switch c {
	case CategoryHR:
		return "HR Leadership"
	case CategoryTalent:
		return "Talent Guidance"
	case CategoryTeam:
		return "From the Team"
	}
	return ""
}

// SubmissionStatus tracks an application through review.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// Author is a platform identity that may write, moderate or administer.
// UserID links the row to an authentication identity; it is nil for
// authors created from an approved application who have not signed up yet.
type Author struct {
	ID           string    `db:"id" json:"id"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Bio          string    `db:"bio" json:"bio,omitempty"`
	AvatarURL    string    `db:"avatar_url" json:"avatar_url,omitempty"`
	Organization string    `db:"organization" json:"organization,omitempty"`
	LinkedInURL  string    `db:"linkedin_url" json:"linkedin_url,omitempty"`
	Approved     bool      `db:"approved" json:"approved"`
	Role         Role      `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Post is an article. PublishedAt is set exactly when Status is published.
type Post struct {
	ID           string     `db:"id" json:"id"`
	Slug         string     `db:"slug" json:"slug"`
	Title        string     `db:"title" json:"title"`
	Body         string     `db:"body" json:"body"`
	Excerpt      string     `db:"excerpt" json:"excerpt"`
	Status       PostStatus `db:"status" json:"status"`
	Category     Category   `db:"category" json:"category"`
	AuthorID     string     `db:"author_id" json:"author_id"`
	ThumbnailURL string     `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
	Featured     bool       `db:"featured" json:"featured"`
	PublishedAt  *time.Time `db:"published_at" json:"published_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// PostWithAuthor is a post joined with the fields of its author that pages
// display.
type PostWithAuthor struct {
	Post
	AuthorName      string `db:"author_name" json:"author_name"`
	AuthorAvatarURL string `db:"author_avatar_url" json:"author_avatar_url,omitempty"`
	AuthorBio       string `db:"author_bio" json:"author_bio,omitempty"`
}

// Submission is an application to become a contributor.
type Submission struct {
	ID           string           `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	Email        string           `db:"email" json:"email"`
	Bio          string           `db:"bio" json:"bio,omitempty"`
	Organization string           `db:"organization" json:"organization,omitempty"`
	LinkedInURL  string           `db:"linkedin_url" json:"linkedin_url,omitempty"`
	Reason       string           `db:"reason" json:"reason,omitempty"`
	Status       SubmissionStatus `db:"status" json:"status"`
	ReviewedBy   *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time        `db:"created_at" json:"created_at"`
}

// AuditEntry records one moderation action.
type AuditEntry struct {
	ID          int64     `db:"id" json:"id"`
	ActorID     string    `db:"actor_id" json:"actor_id"`
	Action      string    `db:"action" json:"action"`
	SubjectType string    `db:"subject_type" json:"subject_type"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	Detail      string    `db:"detail" json:"detail,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PostFilter narrows post listings. Zero values mean "any".
type PostFilter struct {
	Status   PostStatus
	Category Category
	AuthorID string
	Search   string
	Limit    int
	Offset   int
}

// PostCounts summarises posts for dashboards.
type PostCounts struct {
	Total     int `db:"total" json:"total"`
	Drafts    int `db:"drafts" json:"drafts"`
	Pending   int `db:"pending" json:"pending"`
	Published int `db:"published" json:"published"`
}
