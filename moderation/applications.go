package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
)

// Application is the public contributor application form.
type Application struct {
	Name         string `json:"name" form:"name"`
	Email        string `json:"email" form:"email"`
	Bio          string `json:"bio" form:"bio"`
	Organization string `json:"organization" form:"organization"`
	LinkedInURL  string `json:"linkedin_url" form:"linkedin_url"`
	Reason       string `json:"reason" form:"reason"`
}

func (a Application) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&a.Email, validation.Required, is.EmailFormat, validation.Length(3, 254)),
		validation.Field(&a.Bio, validation.Length(0, 2000)),
		validation.Field(&a.Organization, validation.Length(0, 200)),
		validation.Field(&a.LinkedInURL, validation.Length(0, 500), is.URL),
		validation.Field(&a.Reason, validation.Length(0, 2000)),
	)
}

// Applications runs the contributor application review.
type Applications struct {
	store *content.Store
	now   func() time.Time
}

func NewApplications(store *content.Store) *Applications {
	return &Applications{store: store, now: time.Now}
}

// Apply queues a new application. Anyone may apply.
func (w *Applications) Apply(ctx context.Context, app Application) (*content.Submission, error) {
	app.Name = strings.TrimSpace(app.Name)
	app.Email = content.NormalizeEmail(app.Email)
	app.Bio = strings.TrimSpace(app.Bio)
	app.Organization = strings.TrimSpace(app.Organization)
	app.LinkedInURL = strings.TrimSpace(app.LinkedInURL)
	app.Reason = strings.TrimSpace(app.Reason)
	if err := app.Validate(); err != nil {
		return nil, err
	}
	sub := &content.Submission{
		Name:         app.Name,
		Email:        app.Email,
		Bio:          app.Bio,
		Organization: app.Organization,
		LinkedInURL:  app.LinkedInURL,
		Reason:       app.Reason,
		CreatedAt:    w.now(),
	}
	if err := w.store.CreateSubmission(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Approval is the result of approving an application. ClaimToken is the
// one-time invitation the applicant presents at sign-up to take over the
// author profile; it is only returned here and stored hashed.
type Approval struct {
	Author     *content.Author
	ClaimToken string
}

// Approve accepts a pending application and creates its approved author
// in the same transaction. The status change is conditional on the row
// still being pending, so of two concurrent approvals exactly one creates
// the author and the other gets ErrAlreadyReviewed. If the author cannot
// be written the application stays pending.
//
// An unclaimed author under the applicant's email is approved again with a
// fresh invitation. An author already signed in under that email is never
// promoted here, since nothing proves the account holder sent the
// application: Approve fails with ErrAccountExists and an admin decides on
// the Authors page.
func (w *Applications) Approve(ctx context.Context, sess *auth.Session, id string) (*Approval, error) {
	if err := auth.RequireRole(sess, auth.Editor).Err(); err != nil {
		return nil, err
	}

	out := &Approval{}
	err := w.store.WithTx(ctx, func(tx *content.Store) error {
		now := w.now()
		ok, err := tx.ReviewSubmission(ctx, id, content.SubmissionApproved, sess.AuthorID(), now)
		if err != nil {
			return err
		}
		if !ok {
			return w.explainMiss(ctx, tx, id)
		}
		sub, err := tx.GetSubmission(ctx, id)
		if err != nil {
			return err
		}

		author, err := tx.GetAuthorByEmail(ctx, sub.Email)
		switch {
		case errors.Is(err, content.ErrNotFound):
			author = &content.Author{
				Name:         sub.Name,
				Email:        sub.Email,
				Bio:          sub.Bio,
				Organization: sub.Organization,
				LinkedInURL:  sub.LinkedInURL,
				Approved:     true,
				Role:         content.RoleAuthor,
				CreatedAt:    now,
			}
			if err := tx.CreateAuthor(ctx, author); err != nil {
				return fmt.Errorf("create author: %w", err)
			}
		case err != nil:
			return err
		case author.UserID != nil:
			return fmt.Errorf("%w: %s", ErrAccountExists, sub.Email)
		default:
			role := author.Role
			if !role.AtLeast(content.RoleAuthor) {
				role = content.RoleAuthor
			}
			if err := tx.SetAuthorAccess(ctx, author.ID, true, role, now); err != nil {
				return err
			}
			author.Approved, author.Role = true, role
		}

		token, hash := content.NewClaimToken()
		if err := tx.SetAuthorClaim(ctx, author.ID, hash, now); err != nil {
			return err
		}
		out.Author, out.ClaimToken = author, token
		return record(ctx, tx, sess, ActionApplicationApprove, "application", id, "author="+author.ID, now)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reject declines a pending application.
func (w *Applications) Reject(ctx context.Context, sess *auth.Session, id string) (*content.Submission, error) {
	if err := auth.RequireRole(sess, auth.Editor).Err(); err != nil {
		return nil, err
	}

	var out *content.Submission
	err := w.store.WithTx(ctx, func(tx *content.Store) error {
		now := w.now()
		ok, err := tx.ReviewSubmission(ctx, id, content.SubmissionRejected, sess.AuthorID(), now)
		if err != nil {
			return err
		}
		if !ok {
			return w.explainMiss(ctx, tx, id)
		}
		if err := record(ctx, tx, sess, ActionApplicationReject, "application", id, "", now); err != nil {
			return err
		}
		out, err = tx.GetSubmission(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Applications) explainMiss(ctx context.Context, tx *content.Store, id string) error {
	sub, err := tx.GetSubmission(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: application is %s", ErrAlreadyReviewed, sub.Status)
}
