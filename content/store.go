package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/eringen/pubdesk/database"
)

// Store provides row access for the publishing tables. A Store obtained
// from WithTx runs every call inside that transaction.
type Store struct {
	db   sqlx.ExtContext
	root *sqlx.DB
}

// NewStore wraps an open, migrated database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, root: db}
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sqlx.DB { return s.root }

// Ext returns the executor bound to this Store, the transaction when the
// Store came from WithTx.
func (s *Store) Ext() sqlx.ExtContext { return s.db }

// WithTx runs fn with a Store bound to a single transaction. Nested calls
// reuse the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return fn(s)
	}
	return database.WithTx(ctx, s.root, func(tx *sqlx.Tx) error {
		return fn(&Store{db: tx, root: s.root})
	})
}

func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	err := sqlx.GetContext(ctx, s.db, dest, s.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Store) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, s.db, dest, s.db.Rebind(query), args...)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func newID() string { return uuid.NewString() }

// NormalizeEmail trims and lowercases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// ---------------------------------------------------------------------------
// Authors
// ---------------------------------------------------------------------------

const authorColumns = `id, user_id, name, email, bio, avatar_url, organization, linkedin_url, approved, role, created_at, updated_at`

// CreateAuthor inserts a, assigning an ID and timestamps when unset.
func (s *Store) CreateAuthor(ctx context.Context, a *Author) error {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.Role == "" {
		a.Role = RoleReader
	}
	a.Email = NormalizeEmail(a.Email)
	a.CreatedAt = stamp(a.CreatedAt)
	a.UpdatedAt = a.CreatedAt
	_, err := s.exec(ctx, `INSERT INTO authors (`+authorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Email, a.Bio, a.AvatarURL, a.Organization, a.LinkedInURL,
		a.Approved, a.Role, a.CreatedAt, a.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("author %s: %w", a.Email, ErrDuplicate)
	}
	return err
}

func (s *Store) GetAuthor(ctx context.Context, id string) (*Author, error) {
	var a Author
	if err := s.get(ctx, &a, `SELECT `+authorColumns+` FROM authors WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAuthorByUserID(ctx context.Context, userID string) (*Author, error) {
	var a Author
	if err := s.get(ctx, &a, `SELECT `+authorColumns+` FROM authors WHERE user_id = ?`, userID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAuthorByEmail(ctx context.Context, email string) (*Author, error) {
	var a Author
	if err := s.get(ctx, &a, `SELECT `+authorColumns+` FROM authors WHERE email = ?`, NormalizeEmail(email)); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAuthors returns authors ordered by name.
func (s *Store) ListAuthors(ctx context.Context, approvedOnly bool) ([]Author, error) {
	q := `SELECT ` + authorColumns + ` FROM authors`
	var args []any
	if approvedOnly {
		q += ` WHERE approved = ?`
		args = append(args, true)
	}
	q += ` ORDER BY name, created_at`
	var authors []Author
	if err := s.selectAll(ctx, &authors, q, args...); err != nil {
		return nil, err
	}
	return authors, nil
}

func (s *Store) CountAuthors(ctx context.Context) (int, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM authors`)
	return n, err
}

// UpdateAuthorProfile writes the self-editable profile fields of a.
func (s *Store) UpdateAuthorProfile(ctx context.Context, a *Author) error {
	a.UpdatedAt = stamp(time.Time{})
	n, err := s.exec(ctx, `UPDATE authors
		SET name = ?, bio = ?, avatar_url = ?, organization = ?, linkedin_url = ?, updated_at = ?
		WHERE id = ?`,
		a.Name, a.Bio, a.AvatarURL, a.Organization, a.LinkedInURL, a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAuthorAccess sets the approval flag and role of an author together.
func (s *Store) SetAuthorAccess(ctx context.Context, id string, approved bool, role Role, now time.Time) error {
	n, err := s.exec(ctx, `UPDATE authors SET approved = ?, role = ?, updated_at = ? WHERE id = ?`,
		approved, role, stamp(now), id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkAuthorUser attaches an authentication identity to an author that has
// none yet.
func (s *Store) LinkAuthorUser(ctx context.Context, authorID, userID string, now time.Time) error {
	n, err := s.exec(ctx, `UPDATE authors SET user_id = ?, updated_at = ? WHERE id = ? AND user_id IS NULL`,
		userID, stamp(now), authorID)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("user %s: %w", userID, ErrDuplicate)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("author %s already linked: %w", authorID, ErrDuplicate)
	}
	return nil
}

// NewClaimToken returns a random sign-up token and the hash to store for it.
func NewClaimToken() (token, hash string) {
	token = strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
	return token, HashClaimToken(token)
}

// HashClaimToken is the stored form of a claim token.
func HashClaimToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SetAuthorClaim replaces the pending sign-up claim for an author.
func (s *Store) SetAuthorClaim(ctx context.Context, authorID, tokenHash string, now time.Time) error {
	if _, err := s.exec(ctx, `DELETE FROM author_claims WHERE author_id = ?`, authorID); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO author_claims (author_id, token_hash, created_at) VALUES (?, ?, ?)`,
		authorID, tokenHash, stamp(now))
	return err
}

// ConsumeAuthorClaim deletes the author's claim if tokenHash matches it and
// reports whether it did.
func (s *Store) ConsumeAuthorClaim(ctx context.Context, authorID, tokenHash string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM author_claims WHERE author_id = ? AND token_hash = ?`, authorID, tokenHash)
	return n == 1, err
}

// ---------------------------------------------------------------------------
// Posts
// ---------------------------------------------------------------------------

const postColumns = `p.id, p.slug, p.title, p.body, p.excerpt, p.status, p.category, p.author_id,
	p.thumbnail_url, p.featured, p.published_at, p.created_at, p.updated_at`

const postWithAuthorSelect = `SELECT ` + postColumns + `,
	a.name AS author_name, a.avatar_url AS author_avatar_url, a.bio AS author_bio
	FROM posts p JOIN authors a ON a.id = p.author_id`

// CreatePost inserts p. A slug collision returns ErrSlugTaken.
func (s *Store) CreatePost(ctx context.Context, p *Post) error {
	if p.ID == "" {
		p.ID = newID()
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	p.CreatedAt = stamp(p.CreatedAt)
	p.UpdatedAt = p.CreatedAt
	_, err := s.exec(ctx, `INSERT INTO posts (id, slug, title, body, excerpt, status, category, author_id,
			thumbnail_url, featured, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Slug, p.Title, p.Body, p.Excerpt, p.Status, p.Category, p.AuthorID,
		p.ThumbnailURL, p.Featured, p.PublishedAt, p.CreatedAt, p.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrSlugTaken, p.Slug)
	}
	return err
}

// UpdatePostContent writes the editable fields of p. Status, featured and
// published_at change only through the transition methods.
func (s *Store) UpdatePostContent(ctx context.Context, p *Post) error {
	p.UpdatedAt = stamp(time.Time{})
	n, err := s.exec(ctx, `UPDATE posts
		SET slug = ?, title = ?, body = ?, excerpt = ?, category = ?, thumbnail_url = ?, updated_at = ?
		WHERE id = ?`,
		p.Slug, p.Title, p.Body, p.Excerpt, p.Category, p.ThumbnailURL, p.UpdatedAt, p.ID)
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrSlugTaken, p.Slug)
	}
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	if err := s.get(ctx, &p, `SELECT `+postColumns+` FROM posts p WHERE p.id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPostBySlug returns the post with slug in any status.
func (s *Store) GetPostBySlug(ctx context.Context, slug string) (*PostWithAuthor, error) {
	var p PostWithAuthor
	if err := s.get(ctx, &p, postWithAuthorSelect+` WHERE p.slug = ?`, slug); err != nil {
		return nil, err
	}
	return &p, nil
}

// PublishedBySlug returns a published post by an approved author.
func (s *Store) PublishedBySlug(ctx context.Context, slug string) (*PostWithAuthor, error) {
	var p PostWithAuthor
	err := s.get(ctx, &p, postWithAuthorSelect+` WHERE p.slug = ? AND p.status = ? AND a.approved = ?`,
		slug, StatusPublished, true)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPublished returns published posts of approved authors, newest first.
// Status and Search in f are ignored.
func (s *Store) ListPublished(ctx context.Context, f PostFilter) ([]PostWithAuthor, error) {
	q := postWithAuthorSelect + ` WHERE p.status = ? AND a.approved = ?`
	args := []any{StatusPublished, true}
	if f.Category != "" {
		q += ` AND p.category = ?`
		args = append(args, f.Category)
	}
	if f.AuthorID != "" {
		q += ` AND p.author_id = ?`
		args = append(args, f.AuthorID)
	}
	q += ` ORDER BY p.published_at DESC, p.id`
	q, args = paginate(q, args, f)
	var posts []PostWithAuthor
	if err := s.selectAll(ctx, &posts, q, args...); err != nil {
		return nil, err
	}
	return posts, nil
}

// FeaturedPost returns the most recently published featured post.
func (s *Store) FeaturedPost(ctx context.Context) (*PostWithAuthor, error) {
	var p PostWithAuthor
	err := s.get(ctx, &p, postWithAuthorSelect+` WHERE p.status = ? AND p.featured = ? AND a.approved = ?
		ORDER BY p.published_at DESC LIMIT 1`, StatusPublished, true, true)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RelatedPosts returns other published posts in the same category.
func (s *Store) RelatedPosts(ctx context.Context, p *Post, limit int) ([]PostWithAuthor, error) {
	var posts []PostWithAuthor
	err := s.selectAll(ctx, &posts, postWithAuthorSelect+` WHERE p.status = ? AND a.approved = ?
		AND p.category = ? AND p.id <> ? ORDER BY p.published_at DESC LIMIT ?`,
		StatusPublished, true, p.Category, p.ID, limit)
	if err != nil {
		return nil, err
	}
	return posts, nil
}

// ListPosts returns posts in any status for moderation screens, newest
// first. Search matches the title or the author's name.
func (s *Store) ListPosts(ctx context.Context, f PostFilter) ([]PostWithAuthor, error) {
	q := postWithAuthorSelect + ` WHERE 1 = 1`
	var args []any
	if f.Status != "" {
		q += ` AND p.status = ?`
		args = append(args, f.Status)
	}
	if f.Category != "" {
		q += ` AND p.category = ?`
		args = append(args, f.Category)
	}
	if f.AuthorID != "" {
		q += ` AND p.author_id = ?`
		args = append(args, f.AuthorID)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q += ` AND (LOWER(p.title) LIKE ? OR LOWER(a.name) LIKE ?)`
		args = append(args, like, like)
	}
	q += ` ORDER BY p.created_at DESC, p.id`
	q, args = paginate(q, args, f)
	var posts []PostWithAuthor
	if err := s.selectAll(ctx, &posts, q, args...); err != nil {
		return nil, err
	}
	return posts, nil
}

func paginate(q string, args []any, f PostFilter) (string, []any) {
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	return q, args
}

// CountPosts tallies posts by status, for one author when authorID is set.
func (s *Store) CountPosts(ctx context.Context, authorID string) (PostCounts, error) {
	q := `SELECT COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN status = 'draft' THEN 1 ELSE 0 END), 0) AS drafts,
		COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
		COALESCE(SUM(CASE WHEN status = 'published' THEN 1 ELSE 0 END), 0) AS published
		FROM posts`
	var args []any
	if authorID != "" {
		q += ` WHERE author_id = ?`
		args = append(args, authorID)
	}
	var c PostCounts
	err := s.get(ctx, &c, q, args...)
	return c, err
}

// TransitionPost moves post id to status `to` if its current status is one
// of from. Entering published stamps published_at. It reports whether the
// row changed; false means the post is missing or in another status.
func (s *Store) TransitionPost(ctx context.Context, id string, from []PostStatus, to PostStatus, now time.Time) (bool, error) {
	now = stamp(now)
	var (
		q    string
		args []any
	)
	if to == StatusPublished {
		q = `UPDATE posts SET status = ?, published_at = COALESCE(published_at, ?), updated_at = ?
			WHERE id = ? AND status IN (?)`
		args = []any{to, now, now, id, from}
	} else {
		q = `UPDATE posts SET status = ?, updated_at = ? WHERE id = ? AND status IN (?)`
		args = []any{to, now, id, from}
	}
	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return false, err
	}
	n, err := s.exec(ctx, q, args...)
	return n > 0, err
}

// SetFeatured toggles featured on a published post. It reports false when
// the post is missing or not published.
func (s *Store) SetFeatured(ctx context.Context, id string, featured bool, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `UPDATE posts SET featured = ?, updated_at = ? WHERE id = ? AND status = ?`,
		featured, stamp(now), id, StatusPublished)
	return n > 0, err
}

// DeletePost removes a post permanently.
func (s *Store) DeletePost(ctx context.Context, id string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM posts WHERE id = ?`, id)
	return n > 0, err
}

// SlugTaken reports whether a post other than exceptID uses slug.
func (s *Store) SlugTaken(ctx context.Context, slug, exceptID string) (bool, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM posts WHERE slug = ? AND id <> ?`, slug, exceptID)
	return n > 0, err
}

// ---------------------------------------------------------------------------
// Submission queue
// ---------------------------------------------------------------------------

const submissionColumns = `id, name, email, bio, organization, linkedin_url, reason, status, reviewed_by, reviewed_at, created_at`

func (s *Store) CreateSubmission(ctx context.Context, sub *Submission) error {
	if sub.ID == "" {
		sub.ID = newID()
	}
	sub.Email = NormalizeEmail(sub.Email)
	sub.Status = SubmissionPending
	sub.ReviewedBy, sub.ReviewedAt = nil, nil
	sub.CreatedAt = stamp(sub.CreatedAt)
	_, err := s.exec(ctx, `INSERT INTO submission_queue (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)`,
		sub.ID, sub.Name, sub.Email, sub.Bio, sub.Organization, sub.LinkedInURL, sub.Reason,
		sub.Status, sub.CreatedAt)
	return err
}

func (s *Store) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	var sub Submission
	if err := s.get(ctx, &sub, `SELECT `+submissionColumns+` FROM submission_queue WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubmissions returns applications, newest first, optionally filtered
// by status.
func (s *Store) ListSubmissions(ctx context.Context, status SubmissionStatus) ([]Submission, error) {
	q := `SELECT ` + submissionColumns + ` FROM submission_queue`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY created_at DESC, id`
	var subs []Submission
	if err := s.selectAll(ctx, &subs, q, args...); err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *Store) CountSubmissions(ctx context.Context, status SubmissionStatus) (int, error) {
	var n int
	err := s.get(ctx, &n, `SELECT COUNT(*) FROM submission_queue WHERE status = ?`, status)
	return n, err
}

// ReviewSubmission moves a pending application to status, recording the
// reviewer and time in the same write. It reports false when the
// application is missing or no longer pending.
func (s *Store) ReviewSubmission(ctx context.Context, id string, status SubmissionStatus, reviewerID string, at time.Time) (bool, error) {
	n, err := s.exec(ctx, `UPDATE submission_queue SET status = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status = ?`,
		status, reviewerID, stamp(at), id, SubmissionPending)
	return n > 0, err
}

// ---------------------------------------------------------------------------
// Audit log
// ---------------------------------------------------------------------------

func (s *Store) RecordAudit(ctx context.Context, e *AuditEntry) error {
	e.CreatedAt = stamp(e.CreatedAt)
	_, err := s.exec(ctx, `INSERT INTO audit_log (actor_id, action, subject_type, subject_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ActorID, e.Action, e.SubjectType, e.SubjectID, e.Detail, e.CreatedAt)
	return err
}

// ListAudit returns the latest entries, newest first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []AuditEntry
	err := s.selectAll(ctx, &entries, `SELECT id, actor_id, action, subject_type, subject_id, detail, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}
