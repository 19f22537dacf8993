package moderation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/database/dbtest"
)

type fixture struct {
	store   *content.Store
	posts   *Posts
	apps    *Applications
	authors *Authors

	admin  *auth.Session
	editor *auth.Session
	writer *auth.Session
	other  *auth.Session
	newbie *auth.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := content.NewStore(dbtest.Open(t))
	f := &fixture{
		store:   store,
		posts:   NewPosts(store, DefaultPolicy()),
		apps:    NewApplications(store),
		authors: NewAuthors(store),
	}
	f.admin = f.session(t, "Admin", content.RoleAdmin, true)
	f.editor = f.session(t, "Editor", content.RoleEditor, true)
	f.writer = f.session(t, "Writer", content.RoleAuthor, true)
	f.other = f.session(t, "Other", content.RoleAuthor, true)
	f.newbie = f.session(t, "Newbie", content.RoleReader, false)
	return f
}

func (f *fixture) session(t *testing.T, name string, role content.Role, approved bool) *auth.Session {
	t.Helper()
	a := &content.Author{Name: name, Email: content.Slugify(name) + "@example.com", Role: role, Approved: approved}
	require.NoError(t, f.store.CreateAuthor(context.Background(), a))
	return &auth.Session{UserID: "user-" + a.ID, Email: a.Email, Author: a}
}

func (f *fixture) draft(t *testing.T, sess *auth.Session, title, body string) *content.Post {
	t.Helper()
	p, err := f.posts.SaveDraft(context.Background(), sess, Draft{Title: title, Body: body, Category: content.CategoryHR})
	require.NoError(t, err)
	return p
}

func (f *fixture) audit(t *testing.T) []content.AuditEntry {
	t.Helper()
	entries, err := f.store.ListAudit(context.Background(), 100)
	require.NoError(t, err)
	return entries
}
