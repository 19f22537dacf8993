// Package moderation implements the editorial workflows: moving posts
// through draft, pending and published, reviewing contributor applications
// and administering authors. Every operation re-checks the caller's
// capability with auth.RequireRole and performs its state change as a
// conditional write, so racing requests cannot both succeed.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyReviewed   = errors.New("application already reviewed")
	ErrAccountExists     = errors.New("an account already uses this email")
)

// Policy holds the named workflow switches.
type Policy struct {
	// EditorsSelfPublish lets editors and admins publish their own drafts
	// directly when they submit them, skipping the pending state.
	EditorsSelfPublish bool
}

// DefaultPolicy enables the editor self-publish shortcut.
func DefaultPolicy() Policy {
	return Policy{EditorsSelfPublish: true}
}

// SubmitTarget returns the status a draft submitted by sess moves to.
func (p Policy) SubmitTarget(sess *auth.Session) content.PostStatus {
	if p.EditorsSelfPublish && auth.RequireRole(sess, auth.Editor) == auth.Authorized {
		return content.StatusPublished
	}
	return content.StatusPending
}

// Audit actions.
const (
	ActionPostSubmit         = "post.submit"
	ActionPostSelfPublish    = "post.self_publish"
	ActionPostPublish        = "post.publish"
	ActionPostReject         = "post.reject"
	ActionPostDelete         = "post.delete"
	ActionPostFeature        = "post.feature"
	ActionPostUnfeature      = "post.unfeature"
	ActionApplicationApprove = "application.approve"
	ActionApplicationReject  = "application.reject"
	ActionAuthorApprove      = "author.approve"
	ActionAuthorRevoke       = "author.revoke"
	ActionAuthorRole         = "author.role"
)

func record(ctx context.Context, tx *content.Store, sess *auth.Session, action, subjectType, subjectID, detail string, at time.Time) error {
	err := tx.RecordAudit(ctx, &content.AuditEntry{
		ActorID:     sess.AuthorID(),
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Detail:      detail,
		CreatedAt:   at,
	})
	if err != nil {
		return fmt.Errorf("record audit %s: %w", action, err)
	}
	return nil
}

func transitionError(status content.PostStatus, verb string) error {
	return fmt.Errorf("%w: cannot %s a %s post", ErrInvalidTransition, verb, status)
}
