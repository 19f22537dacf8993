package analytics

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/database/dbtest"
)

type storeFixture struct {
	store   *Store
	content *content.Store
	post    *content.Post
	other   *content.Post
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	db := dbtest.Open(t)
	cs := content.NewStore(db)
	ctx := context.Background()

	a := &content.Author{Name: "Writer", Email: "writer@example.com", Role: content.RoleAuthor, Approved: true}
	require.NoError(t, cs.CreateAuthor(ctx, a))
	post := &content.Post{Slug: "hiring", Title: "Hiring", Body: "<p>x</p>", Category: content.CategoryHR, AuthorID: a.ID}
	require.NoError(t, cs.CreatePost(ctx, post))
	other := &content.Post{Slug: "culture", Title: "Culture", Body: "<p>y</p>", Category: content.CategoryTeam, AuthorID: a.ID}
	require.NoError(t, cs.CreatePost(ctx, other))

	return &storeFixture{store: NewStore(db), content: cs, post: post, other: other}
}

func (f *storeFixture) record(t *testing.T, typ EventType, postID, anon, meta string, at time.Time) {
	t.Helper()
	e := Event{Type: typ, PostID: postID, AnonID: anon, CreatedAt: at}
	if meta != "" {
		e.Meta = json.RawMessage(meta)
	}
	require.NoError(t, f.store.Record(context.Background(), e))
}

func TestTotalsAndVisitors(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.record(t, EventPostOpened, f.post.ID, "anon-aaaaaaaa", "", now)
	f.record(t, EventPostOpened, f.post.ID, "anon-aaaaaaaa", "", now)
	f.record(t, EventPostOpened, f.other.ID, "anon-bbbbbbbb", "", now)
	f.record(t, EventPostOpened, f.other.ID, "", "", now)
	f.record(t, EventPostShared, f.post.ID, "", `{"target":"linkedin"}`, now)

	totals, err := f.store.Totals(ctx, Range{})
	require.NoError(t, err)
	assert.Equal(t, 4, totals[EventPostOpened])
	assert.Equal(t, 1, totals[EventPostShared])
	assert.Equal(t, 0, totals[EventCTAClicked], "every type is reported")
	assert.Len(t, totals, len(EventTypes))

	visitors, err := f.store.UniqueVisitors(ctx, Range{})
	require.NoError(t, err)
	assert.Equal(t, 2, visitors)

	// A range in the past sees nothing.
	old := Range{From: now.Add(-48 * time.Hour), To: now.Add(-24 * time.Hour)}
	totals, err = f.store.Totals(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, 0, totals[EventPostOpened])
}

func TestRecentActivityNewestFirst(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	f.record(t, EventPostOpened, f.post.ID, "", "", base)
	f.record(t, EventPostShared, f.other.ID, "", "", base.Add(time.Minute))
	f.record(t, EventCTAClicked, "deleted-post", "", "", base.Add(2*time.Minute))
	f.record(t, EventCTAClicked, "", "", "", base.Add(2*time.Minute))

	got, err := f.store.RecentActivity(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Same timestamp: the later insert wins.
	assert.Nil(t, got[0].PostID)
	require.NotNil(t, got[1].PostID)
	assert.Equal(t, "deleted-post", *got[1].PostID)
	assert.Nil(t, got[1].PostTitle, "events outlive their posts")
	assert.Equal(t, EventPostShared, got[2].Type)
	require.NotNil(t, got[2].PostTitle)
	assert.Equal(t, "Culture", *got[2].PostTitle)
	assert.Equal(t, "culture", *got[2].PostSlug)
}

func TestTopPostsAndSummary(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		f.record(t, EventPostOpened, f.other.ID, "", "", now)
	}
	f.record(t, EventPostOpened, f.post.ID, "", "", now)
	f.record(t, EventPostScrolled, f.post.ID, "", `{"scroll_percent":50}`, now)

	top, err := f.store.TopPosts(ctx, Range{}, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "culture", top[0].Slug)
	assert.Equal(t, 3, top[0].Views)

	_, r := ParsePeriod("today", now)
	s, err := f.store.Summary(ctx, r, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Totals[EventPostOpened])
	assert.Equal(t, 1, s.Totals[EventPostScrolled])
	assert.Len(t, s.TopPosts, 2)
	assert.Len(t, s.Recent, 2)
}

func TestRollupDay(t *testing.T) {
	f := newStoreFixture(t)
	ctx := context.Background()
	day := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	at := day.Add(9 * time.Hour)

	f.record(t, EventPostOpened, f.post.ID, "reader-1111", `{"referrer":"https://example.com"}`, at)
	f.record(t, EventPostOpened, f.post.ID, "reader-1111", "", at.Add(time.Hour))
	f.record(t, EventPostOpened, f.post.ID, "reader-2222", "", at.Add(2*time.Hour))
	f.record(t, EventPostScrolled, f.post.ID, "reader-1111", `{"scroll_percent":50,"time_on_page":12}`, at)
	f.record(t, EventPostScrolled, f.post.ID, "reader-1111", `{"time_on_page":30,"final":true}`, at)
	f.record(t, EventPostScrolled, f.post.ID, "reader-2222", `{"time_on_page":10,"final":true}`, at)
	f.record(t, EventPostShared, f.post.ID, "", `{"target":"x"}`, at)
	f.record(t, EventCTAClicked, f.post.ID, "", `{"cta_name":"apply","destination":"/apply/"}`, at)
	f.record(t, EventCTAClicked, f.post.ID, "", "", at)
	f.record(t, EventPostOpened, f.other.ID, "", "", at)
	// Outside the day and without a post: ignored.
	f.record(t, EventPostOpened, f.post.ID, "reader-3333", "", day.Add(-time.Second))
	f.record(t, EventPostOpened, f.post.ID, "reader-3333", "", day.Add(24*time.Hour))
	f.record(t, EventCTAClicked, "", "", "", at)

	aggs, err := f.store.RollupDay(ctx, at)
	require.NoError(t, err)
	require.Len(t, aggs, 2)

	byPost := map[string]Aggregate{}
	for _, a := range aggs {
		byPost[a.PostID] = a
	}
	got := byPost[f.post.ID]
	assert.Equal(t, "2026-04-10", got.Day)
	assert.Equal(t, 3, got.Views)
	assert.Equal(t, 2, got.Uniques)
	assert.Equal(t, 1, got.Scroll50)
	assert.Equal(t, 1, got.Shares)
	assert.Equal(t, 2, got.CTAClicks)
	require.NotNil(t, got.AvgTime)
	assert.InDelta(t, 20.0, *got.AvgTime, 0.001)

	assert.Nil(t, byPost[f.other.ID].AvgTime, "no final beacon, no average")

	// Rerunning after more events overwrites rather than adds.
	f.record(t, EventPostShared, f.post.ID, "", "", at)
	_, err = f.store.RollupDay(ctx, day)
	require.NoError(t, err)

	stored, err := f.store.Aggregates(ctx, f.post.ID, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 2, stored[0].Shares)
	assert.Equal(t, 3, stored[0].Views)
	assert.Equal(t, "Hiring", stored[0].Title)

	all, err := f.store.Aggregates(ctx, "", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestParsePeriod(t *testing.T) {
	now := time.Date(2026, 6, 15, 13, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2026, 6, 16, 0, 0, 0, 0, time.UTC)

	p, r := ParsePeriod("today", now)
	assert.Equal(t, "today", p)
	assert.Equal(t, Range{From: time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), To: tomorrow}, r)

	p, r = ParsePeriod("bogus", now)
	assert.Equal(t, "week", p)
	assert.Equal(t, tomorrow.AddDate(0, 0, -7), r.From)

	_, r = ParsePeriod("all", now)
	assert.True(t, r.From.IsZero())
	assert.True(t, r.To.IsZero())
}
