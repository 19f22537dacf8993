// Package auth resolves who is making a request and what they may do.
//
// Authentication identities (users) are separate from platform authors: a
// Session carries the user and, when one is linked, the Author row that
// holds the role and approval flag. Every mutating operation asks
// RequireRole before touching data; nothing relies on the UI having hidden
// a control.
package auth

import (
	"context"
	"errors"

	"github.com/eringen/pubdesk/content"
)

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrClaimRequired      = errors.New("email belongs to an approved author; a sign-up invitation is required")
)

// Session is the server-side view of the caller for one request.
type Session struct {
	UserID string          `json:"user_id"`
	Email  string          `json:"email"`
	Author *content.Author `json:"author,omitempty"`
}

// AuthorID returns the linked author id or "".
func (s *Session) AuthorID() string {
	if s == nil || s.Author == nil {
		return ""
	}
	return s.Author.ID
}

// Role returns the linked author's role or "".
func (s *Session) Role() content.Role {
	if s == nil || s.Author == nil {
		return ""
	}
	return s.Author.Role
}

// Approved reports whether the caller is an approved author.
func (s *Session) Approved() bool {
	return s != nil && s.Author != nil && s.Author.Approved
}

type sessionKey struct{}

// NewContext returns a copy of ctx carrying sess.
func NewContext(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// FromContext returns the session stored in ctx, or nil for anonymous
// requests.
func FromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey{}).(*Session)
	return sess
}

// Requirement describes the minimum capability an operation needs.
type Requirement struct {
	MinRole         content.Role
	RequireApproved bool
}

// Common requirements.
var (
	// Contributor may write and submit posts.
	Contributor = Requirement{MinRole: content.RoleReader, RequireApproved: true}
	// Editor may review applications and publish or reject posts.
	Editor = Requirement{MinRole: content.RoleEditor, RequireApproved: true}
	// Admin may delete and feature posts and manage authors.
	Admin = Requirement{MinRole: content.RoleAdmin, RequireApproved: true}
)

// Decision is the outcome of a capability check.
type Decision int

const (
	Authorized Decision = iota
	Unauthorized
	Unauthenticated
)

func (d Decision) String() string {
	switch d {
	case Authorized:
		return "authorized"
	case Unauthorized:
		return "unauthorized"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Err converts the decision to ErrUnauthenticated, ErrForbidden or nil.
func (d Decision) Err() error {
	switch d {
	case Authorized:
		return nil
	case Unauthenticated:
		return ErrUnauthenticated
	default:
		return ErrForbidden
	}
}

// RequireRole checks sess against req. A nil session is unauthenticated; a
// session without an author row, an unapproved author when approval is
// required, or a role below MinRole is unauthorized.
func RequireRole(sess *Session, req Requirement) Decision {
	if sess == nil || sess.UserID == "" {
		return Unauthenticated
	}
	a := sess.Author
	if a == nil {
		return Unauthorized
	}
	if req.RequireApproved && !a.Approved {
		return Unauthorized
	}
	if req.MinRole != "" && !a.Role.AtLeast(req.MinRole) {
		return Unauthorized
	}
	return Authorized
}
