package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/database"
)

// User is an authentication identity.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Credentials is a sign-up or sign-in request.
type Credentials struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Name     string `json:"name" form:"name"`
	// Claim is the invitation token issued when the author was approved.
	Claim string `json:"claim,omitempty" form:"claim"`
}

// Validate checks a sign-up request.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.EmailFormat, validation.Length(3, 254)),
		validation.Field(&c.Password, validation.Required, validation.Length(8, 72)),
		validation.Field(&c.Name, validation.Required, validation.Length(1, 120)),
	)
}

// Service signs users up and in and turns user ids into sessions.
type Service struct {
	store *content.Store
	cost  int
	now   func() time.Time
}

// NewService creates a Service over the content store's database.
func NewService(store *content.Store) *Service {
	return &Service{store: store, cost: bcrypt.DefaultCost, now: time.Now}
}

// SetHashCost overrides the bcrypt cost. Tests lower it.
func (s *Service) SetHashCost(cost int) { s.cost = cost }

// SignUp creates a user and its author row in one transaction. New authors
// are unapproved readers. An approved applicant's existing author row is
// linked only when in.Claim matches the invitation issued at approval.
func (s *Service) SignUp(ctx context.Context, in Credentials) (*Session, error) {
	in.Email = content.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var sess *Session
	err = s.store.WithTx(ctx, func(tx *content.Store) error {
		var err error
		sess, err = s.createIdentity(ctx, tx, in, string(hash), nil, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// CreateAdmin creates an approved admin, or promotes the author already
// registered under the email. It is the bootstrap path used by the CLI.
func (s *Service) CreateAdmin(ctx context.Context, in Credentials) (*Session, error) {
	in.Email = content.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var sess *Session
	err = s.store.WithTx(ctx, func(tx *content.Store) error {
		user, err := getUserByEmail(ctx, tx.Ext(), in.Email)
		switch {
		case errors.Is(err, content.ErrNotFound):
			admin := content.RoleAdmin
			if sess, err = s.createIdentity(ctx, tx, in, string(hash), &admin, true); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if sess, err = s.sessionFor(ctx, tx, user); err != nil {
				return err
			}
			if sess.Author == nil {
				return fmt.Errorf("user %s has no author row", user.Email)
			}
		}
		if err := tx.SetAuthorAccess(ctx, sess.Author.ID, true, content.RoleAdmin, s.now()); err != nil {
			return err
		}
		sess.Author.Approved = true
		sess.Author.Role = content.RoleAdmin
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// createIdentity inserts the user and its author row. An unlinked author
// with the same email is linked when trusted or when in.Claim redeems its
// invitation.
func (s *Service) createIdentity(ctx context.Context, tx *content.Store, in Credentials, hash string, role *content.Role, trusted bool) (*Session, error) {
	now := s.now().UTC()
	user := &User{ID: uuid.NewString(), Email: in.Email, PasswordHash: hash, CreatedAt: now}
	if err := insertUser(ctx, tx.Ext(), user); err != nil {
		return nil, err
	}

	author, err := tx.GetAuthorByEmail(ctx, in.Email)
	switch {
	case errors.Is(err, content.ErrNotFound):
		author = &content.Author{UserID: &user.ID, Name: in.Name, Email: in.Email, Role: content.RoleReader, CreatedAt: now}
		if role != nil {
			author.Role = *role
		}
		if err := tx.CreateAuthor(ctx, author); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if author.UserID != nil {
			return nil, ErrEmailTaken
		}
		claimed, err := tx.ConsumeAuthorClaim(ctx, author.ID, content.HashClaimToken(in.Claim))
		if err != nil {
			return nil, err
		}
		if !claimed && !trusted {
			return nil, ErrClaimRequired
		}
		if err := tx.LinkAuthorUser(ctx, author.ID, user.ID, now); err != nil {
			return nil, err
		}
		author.UserID = &user.ID
	}
	return &Session{UserID: user.ID, Email: user.Email, Author: author}, nil
}

// Authenticate checks an email and password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	user, err := getUserByEmail(ctx, s.store.Ext(), content.NormalizeEmail(email))
	if errors.Is(err, content.ErrNotFound) {
		// Burn comparable time so unknown emails are not distinguishable.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.sessionFor(ctx, s.store, user)
}

// Load builds the session for a user id taken from a cookie or token.
func (s *Service) Load(ctx context.Context, userID string) (*Session, error) {
	user, err := getUserByID(ctx, s.store.Ext(), userID)
	if errors.Is(err, content.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	return s.sessionFor(ctx, s.store, user)
}

func (s *Service) sessionFor(ctx context.Context, store *content.Store, user *User) (*Session, error) {
	sess := &Session{UserID: user.ID, Email: user.Email}
	author, err := store.GetAuthorByUserID(ctx, user.ID)
	switch {
	case errors.Is(err, content.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		sess.Author = author
	}
	return sess, nil
}

var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("pubdesk-placeholder"), bcrypt.MinCost)

func insertUser(ctx context.Context, q sqlx.ExtContext, u *User) error {
	_, err := q.ExecContext(ctx, q.Rebind(`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`),
		u.ID, u.Email, u.PasswordHash, u.CreatedAt)
	if database.IsUniqueViolation(err) {
		return ErrEmailTaken
	}
	return err
}

func getUserByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*User, error) {
	return getUser(ctx, q, `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email)
}

func getUserByID(ctx context.Context, q sqlx.ExtContext, id string) (*User, error) {
	return getUser(ctx, q, `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`, id)
}

func getUser(ctx context.Context, q sqlx.ExtContext, query string, arg string) (*User, error) {
	var u User
	if err := sqlx.GetContext(ctx, q, &u, q.Rebind(query), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, content.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
