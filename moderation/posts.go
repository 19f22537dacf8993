package moderation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/richtext"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Draft is the editable part of a post. An empty ID creates a new post.
type Draft struct {
	ID           string           `json:"id" form:"id"`
	Title        string           `json:"title" form:"title"`
	Slug         string           `json:"slug" form:"slug"`
	Excerpt      string           `json:"excerpt" form:"excerpt"`
	Body         string           `json:"body" form:"body"`
	Category     content.Category `json:"category" form:"category"`
	ThumbnailURL string           `json:"thumbnail_url" form:"thumbnail_url"`
}

// Validate checks the fields required to store a draft. Title is required
// even for drafts because the slug derives from it; the body may be empty.
func (d Draft) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&d.Slug, validation.Length(1, 200), validation.Match(slugPattern).Error("must contain only lowercase letters, digits and dashes")),
		validation.Field(&d.Excerpt, validation.Length(0, 500)),
		validation.Field(&d.Category, validation.Required, validation.In(content.CategoryHR, content.CategoryTalent, content.CategoryTeam)),
		validation.Field(&d.ThumbnailURL, validation.Length(0, 2048), validation.By(localOrAbsoluteURL)),
	)
}

func localOrAbsoluteURL(v any) error {
	s, _ := v.(string)
	if s == "" || strings.HasPrefix(s, "/") {
		return nil
	}
	return is.URL.Validate(s)
}

// readyForReview checks what a post needs before anyone may read it.
func readyForReview(p *content.Post) error {
	errs := validation.Errors{}
	if strings.TrimSpace(p.Title) == "" {
		errs["title"] = errors.New("cannot be blank")
	}
	if richtext.PlainText(p.Body) == "" {
		errs["body"] = errors.New("cannot be blank")
	}
	return errs.Filter()
}

// Posts runs the post workflow.
type Posts struct {
	store  *content.Store
	policy Policy
	now    func() time.Time
}

// NewPosts creates the post workflow over store.
func NewPosts(store *content.Store, policy Policy) *Posts {
	return &Posts{store: store, policy: policy, now: time.Now}
}

// Policy returns the workflow switches in effect.
func (w *Posts) Policy() Policy { return w.policy }

func canEdit(sess *auth.Session, p *content.Post) bool {
	if auth.RequireRole(sess, auth.Editor) == auth.Authorized {
		return true
	}
	return p.AuthorID == sess.AuthorID()
}

// Editable returns the post with the given id if sess may edit it.
func (w *Posts) Editable(ctx context.Context, sess *auth.Session, id string) (*content.Post, error) {
	if err := auth.RequireRole(sess, auth.Contributor).Err(); err != nil {
		return nil, err
	}
	p, err := w.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canEdit(sess, p) {
		return nil, auth.ErrForbidden
	}
	return p, nil
}

// SaveDraft creates a draft owned by the caller, or updates the content of
// an existing post the caller may edit. It never changes a post's status.
// Bodies are sanitized before storage and a missing excerpt is derived
// from the body.
func (w *Posts) SaveDraft(ctx context.Context, sess *auth.Session, d Draft) (*content.Post, error) {
	if err := auth.RequireRole(sess, auth.Contributor).Err(); err != nil {
		return nil, err
	}

	d.Title = strings.TrimSpace(d.Title)
	d.Slug = strings.TrimSpace(d.Slug)
	d.Excerpt = strings.TrimSpace(d.Excerpt)
	d.ThumbnailURL = strings.TrimSpace(d.ThumbnailURL)
	d.Body = richtext.Sanitize(d.Body)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Excerpt == "" {
		d.Excerpt = richtext.Excerpt(d.Body, richtext.ExcerptLength)
	}

	if d.ID == "" {
		return w.createDraft(ctx, sess, d)
	}
	return w.updateDraft(ctx, sess, d)
}

func (w *Posts) createDraft(ctx context.Context, sess *auth.Session, d Draft) (*content.Post, error) {
	slug, err := w.resolveSlug(ctx, d, "")
	if err != nil {
		return nil, err
	}
	p := &content.Post{
		Slug:         slug,
		Title:        d.Title,
		Body:         d.Body,
		Excerpt:      d.Excerpt,
		Status:       content.StatusDraft,
		Category:     d.Category,
		AuthorID:     sess.AuthorID(),
		ThumbnailURL: d.ThumbnailURL,
		CreatedAt:    w.now(),
	}
	if err := w.store.CreatePost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (w *Posts) updateDraft(ctx context.Context, sess *auth.Session, d Draft) (*content.Post, error) {
	p, err := w.store.GetPost(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if !canEdit(sess, p) {
		return nil, auth.ErrForbidden
	}
	if p.Status == content.StatusPublished && auth.RequireRole(sess, auth.Editor) != auth.Authorized {
		return nil, fmt.Errorf("%w: published posts are edited by editors", ErrInvalidTransition)
	}

	slug := p.Slug
	if d.Slug != "" && d.Slug != p.Slug {
		if slug, err = w.resolveSlug(ctx, d, p.ID); err != nil {
			return nil, err
		}
	}
	p.Slug = slug
	p.Title = d.Title
	p.Body = d.Body
	p.Excerpt = d.Excerpt
	p.Category = d.Category
	p.ThumbnailURL = d.ThumbnailURL
	if err := w.store.UpdatePostContent(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// resolveSlug honours an explicit slug, failing if another post holds it,
// and otherwise derives a free one from the title.
func (w *Posts) resolveSlug(ctx context.Context, d Draft, exceptID string) (string, error) {
	if d.Slug != "" {
		taken, err := w.store.SlugTaken(ctx, d.Slug, exceptID)
		if err != nil {
			return "", err
		}
		if taken {
			return "", fmt.Errorf("%w: %s", content.ErrSlugTaken, d.Slug)
		}
		return d.Slug, nil
	}
	return w.store.UniqueSlug(ctx, content.Slugify(d.Title), exceptID)
}

// Submit sends the caller's draft for review. Under the self-publish policy
// an editor's draft is published instead.
func (w *Posts) Submit(ctx context.Context, sess *auth.Session, id string) (*content.Post, error) {
	if err := auth.RequireRole(sess, auth.Contributor).Err(); err != nil {
		return nil, err
	}
	target := w.policy.SubmitTarget(sess)

	var out *content.Post
	err := w.store.WithTx(ctx, func(tx *content.Store) error {
		p, err := tx.GetPost(ctx, id)
		if err != nil {
			return err
		}
		if !canEdit(sess, p) {
			return auth.ErrForbidden
		}
		if p.Status != content.StatusDraft {
			return transitionError(p.Status, "submit")
		}
		if err := readyForReview(p); err != nil {
			return err
		}
		if target == content.StatusPublished {
			if err := w.requireApprovedAuthor(ctx, tx, p); err != nil {
				return err
			}
		}

		now := w.now()
		ok, err := tx.TransitionPost(ctx, id, []content.PostStatus{content.StatusDraft}, target, now)
		if err != nil {
			return err
		}
		if !ok {
			return w.explainMiss(ctx, tx, id, "submit")
		}
		action := ActionPostSubmit
		if target == content.StatusPublished {
			action = ActionPostSelfPublish
		}
		if err := record(ctx, tx, sess, action, "post", id, p.Slug, now); err != nil {
			return err
		}
		out, err = tx.GetPost(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Publish makes a draft or pending post public. Only editors and admins
// may publish, and only posts by approved authors.
func (w *Posts) Publish(ctx context.Context, sess *auth.Session, id string) (*content.Post, error) {
	if err := auth.RequireRole(sess, auth.Editor).Err(); err != nil {
		return nil, err
	}

	var out *content.Post
	err := w.store.WithTx(ctx, func(tx *content.Store) error {
		p, err := tx.GetPost(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == content.StatusPublished {
			return transitionError(p.Status, "publish")
		}
		if err := readyForReview(p); err != nil {
			return err
		}
		if err := w.requireApprovedAuthor(ctx, tx, p); err != nil {
			return err
		}

		now := w.now()
		from := []content.PostStatus{content.StatusDraft, content.StatusPending}
		ok, err := tx.TransitionPost(ctx, id, from, content.StatusPublished, now)
		if err != nil {
			return err
		}
		if !ok {
			return w.explainMiss(ctx, tx, id, "publish")
		}
		if err := record(ctx, tx, sess, ActionPostPublish, "post", id, p.Slug, now); err != nil {
			return err
		}
		out, err = tx.GetPost(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RejectToDraft returns a pending post to its author. The body is kept.
func (w *Posts) RejectToDraft(ctx context.Context, sess *auth.Session, id, note string) (*content.Post, error) {
	if err := auth.RequireRole(sess, auth.Editor).Err(); err != nil {
		return nil, err
	}

	var out *content.Post
	err := w.store.WithTx(ctx, func(tx *content.Store) error {
		now := w.now()
		ok, err := tx.TransitionPost(ctx, id, []content.PostStatus{content.StatusPending}, content.StatusDraft, now)
		if err != nil {
			return err
		}
		if !ok {
			return w.explainMiss(ctx, tx, id, "reject")
		}
		if err := record(ctx, tx, sess, ActionPostReject, "post", id, strings.TrimSpace(note), now); err != nil {
			return err
		}
		out, err = tx.GetPost(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a post permanently. Admin only.
func (w *Posts) Delete(ctx context.Context, sess *auth.Session, id string) error {
	if err := auth.RequireRole(sess, auth.Admin).Err(); err != nil {
		return err
	}
	return w.store.WithTx(ctx, func(tx *content.Store) error {
		p, err := tx.GetPost(ctx, id)
		if err != nil {
			return err
		}
		ok, err := tx.DeletePost(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return content.ErrNotFound
		}
		detail := fmt.Sprintf("slug=%s title=%q", p.Slug, p.Title)
		return record(ctx, tx, sess, ActionPostDelete, "post", id, detail, w.now())
	})
}

// SetFeatured marks or unmarks a published post as featured. Admin only.
func (w *Posts) SetFeatured(ctx context.Context, sess *auth.Session, id string, featured bool) (*content.Post, error) {
	if err := auth.RequireRole(sess, auth.Admin).Err(); err != nil {
		return nil, err
	}

	var out *content.Post
	err := w.store.WithTx(ctx, func(tx *content.Store) error {
		now := w.now()
		ok, err := tx.SetFeatured(ctx, id, featured, now)
		if err != nil {
			return err
		}
		if !ok {
			return w.explainMiss(ctx, tx, id, "feature")
		}
		action := ActionPostFeature
		if !featured {
			action = ActionPostUnfeature
		}
		if err := record(ctx, tx, sess, action, "post", id, "", now); err != nil {
			return err
		}
		out, err = tx.GetPost(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Posts) requireApprovedAuthor(ctx context.Context, tx *content.Store, p *content.Post) error {
	a, err := tx.GetAuthor(ctx, p.AuthorID)
	if err != nil {
		return err
	}
	if !a.Approved {
		return fmt.Errorf("%w: author %s is not approved", ErrInvalidTransition, a.Name)
	}
	return nil
}

// explainMiss turns a conditional update that matched no row into
// ErrNotFound or ErrInvalidTransition.
func (w *Posts) explainMiss(ctx context.Context, tx *content.Store, id, verb string) error {
	p, err := tx.GetPost(ctx, id)
	if err != nil {
		return err
	}
	return transitionError(p.Status, verb)
}
