package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
)

// Profile holds the author fields a user may edit about themselves.
type Profile struct {
	Name         string `json:"name" form:"name"`
	Bio          string `json:"bio" form:"bio"`
	AvatarURL    string `json:"avatar_url" form:"avatar_url"`
	Organization string `json:"organization" form:"organization"`
	LinkedInURL  string `json:"linkedin_url" form:"linkedin_url"`
}

func (p Profile) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&p.Bio, validation.Length(0, 2000)),
		validation.Field(&p.AvatarURL, validation.Length(0, 2048), validation.By(localOrAbsoluteURL)),
		validation.Field(&p.Organization, validation.Length(0, 200)),
		validation.Field(&p.LinkedInURL, validation.Length(0, 500), is.URL),
	)
}

// Authors administers author accounts.
type Authors struct {
	store *content.Store
	now   func() time.Time
}

func NewAuthors(store *content.Store) *Authors {
	return &Authors{store: store, now: time.Now}
}

// UpdateProfile edits the caller's own author row.
func (w *Authors) UpdateProfile(ctx context.Context, sess *auth.Session, p Profile) (*content.Author, error) {
	if err := auth.RequireRole(sess, auth.Requirement{}).Err(); err != nil {
		return nil, err
	}
	p.Name = strings.TrimSpace(p.Name)
	p.Bio = strings.TrimSpace(p.Bio)
	p.AvatarURL = strings.TrimSpace(p.AvatarURL)
	p.Organization = strings.TrimSpace(p.Organization)
	p.LinkedInURL = strings.TrimSpace(p.LinkedInURL)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	a, err := w.store.GetAuthor(ctx, sess.AuthorID())
	if err != nil {
		return nil, err
	}
	a.Name, a.Bio, a.AvatarURL = p.Name, p.Bio, p.AvatarURL
	a.Organization, a.LinkedInURL = p.Organization, p.LinkedInURL
	if err := w.store.UpdateAuthorProfile(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SetApproved grants or revokes an author's approval. Admin only, and
// never on the caller's own account.
func (w *Authors) SetApproved(ctx context.Context, sess *auth.Session, authorID string, approved bool) (*content.Author, error) {
	action := ActionAuthorApprove
	if !approved {
		action = ActionAuthorRevoke
	}
	return w.update(ctx, sess, authorID, action, func(a *content.Author) error {
		a.Approved = approved
		return nil
	})
}

// SetRole changes an author's role. Admin only, and never on the caller's
// own account, so the last admin cannot demote themselves by accident.
func (w *Authors) SetRole(ctx context.Context, sess *auth.Session, authorID string, role content.Role) (*content.Author, error) {
	if !role.Valid() {
		return nil, validation.Errors{"role": fmt.Errorf("must be one of %v", content.Roles)}
	}
	return w.update(ctx, sess, authorID, ActionAuthorRole, func(a *content.Author) error {
		a.Role = role
		return nil
	})
}

func (w *Authors) update(ctx context.Context, sess *auth.Session, authorID, action string, change func(*content.Author) error) (*content.Author, error) {
	if err := auth.RequireRole(sess, auth.Admin).Err(); err != nil {
		return nil, err
	}
	if authorID == sess.AuthorID() {
		return nil, fmt.Errorf("%w: cannot change your own access", auth.ErrForbidden)
	}

	var out *content.Author
	err := w.store.WithTx(ctx, func(tx *content.Store) error {
		a, err := tx.GetAuthor(ctx, authorID)
		if err != nil {
			return err
		}
		if err := change(a); err != nil {
			return err
		}
		now := w.now()
		if err := tx.SetAuthorAccess(ctx, a.ID, a.Approved, a.Role, now); err != nil {
			return err
		}
		detail := fmt.Sprintf("role=%s approved=%t", a.Role, a.Approved)
		if err := record(ctx, tx, sess, action, "author", a.ID, detail, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
