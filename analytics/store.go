package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// Store reads and writes the events and post_aggregates tables.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewStore wraps an open, migrated database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Record appends e. A zero CreatedAt is stamped with the current time.
func (s *Store) Record(ctx context.Context, e Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO events (event_type, post_id, anon_id, meta, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		e.Type, nullable(e.PostID), nullable(e.AnonID), nullable(string(e.Meta)), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record %s event: %w", e.Type, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Range bounds a query to [From, To). Zero values leave that side open.
type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) where(column string) (string, []any) {
	clause := ""
	var args []any
	if !r.From.IsZero() {
		clause += ` AND ` + column + ` >= ?`
		args = append(args, r.From.UTC())
	}
	if !r.To.IsZero() {
		clause += ` AND ` + column + ` < ?`
		args = append(args, r.To.UTC())
	}
	return clause, args
}

// Totals counts events per type. Every known type is present, zero when
// no events were recorded.
func (s *Store) Totals(ctx context.Context, r Range) (map[EventType]int, error) {
	clause, args := r.where("created_at")
	var rows []struct {
		Type  EventType `db:"event_type"`
		Count int       `db:"n"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT event_type, COUNT(*) AS n FROM events
		WHERE 1 = 1`+clause+` GROUP BY event_type`), args...)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	totals := make(map[EventType]int, len(EventTypes))
	for _, t := range EventTypes {
		totals[t] = 0
	}
	for _, row := range rows {
		totals[row.Type] = row.Count
	}
	return totals, nil
}

// UniqueVisitors counts distinct anonymous ids that opened a post.
func (s *Store) UniqueVisitors(ctx context.Context, r Range) (int, error) {
	clause, args := r.where("created_at")
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(DISTINCT anon_id) FROM events
		WHERE event_type = ? AND anon_id IS NOT NULL`+clause), append([]any{EventPostOpened}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("count visitors: %w", err)
	}
	return n, nil
}

// Activity is one entry of the recent activity feed.
type Activity struct {
	ID        int64     `db:"id" json:"id"`
	Type      EventType `db:"event_type" json:"event_type"`
	PostID    *string   `db:"post_id" json:"post_id,omitempty"`
	PostTitle *string   `db:"post_title" json:"post_title,omitempty"`
	PostSlug  *string   `db:"post_slug" json:"post_slug,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RecentActivity returns the latest limit events, newest first, with the
// title and slug of posts that still exist.
func (s *Store) RecentActivity(ctx context.Context, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Activity
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT e.id, e.event_type, e.post_id, p.title AS post_title,
			p.slug AS post_slug, e.created_at
		FROM events e LEFT JOIN posts p ON p.id = e.post_id
		ORDER BY e.created_at DESC, e.id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return out, nil
}

// PostStat is the view count of one post.
type PostStat struct {
	PostID string `db:"post_id" json:"post_id"`
	Title  string `db:"title" json:"title"`
	Slug   string `db:"slug" json:"slug"`
	Views  int    `db:"views" json:"views"`
}

// TopPosts ranks existing posts by post_opened events in r.
func (s *Store) TopPosts(ctx context.Context, r Range, limit int) ([]PostStat, error) {
	if limit <= 0 {
		limit = 10
	}
	clause, args := r.where("e.created_at")
	args = append([]any{EventPostOpened}, args...)
	args = append(args, limit)
	var out []PostStat
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT p.id AS post_id, p.title, p.slug, COUNT(*) AS views
		FROM events e JOIN posts p ON p.id = e.post_id
		WHERE e.event_type = ?`+clause+`
		GROUP BY p.id, p.title, p.slug
		ORDER BY views DESC, p.title LIMIT ?`), args...)
	if err != nil {
		return nil, fmt.Errorf("top posts: %w", err)
	}
	return out, nil
}

// Summary is the admin analytics overview.
type Summary struct {
	Range          Range
	Totals         map[EventType]int
	UniqueVisitors int
	TopPosts       []PostStat
	Recent         []Activity
}

// Summary gathers the overview queries concurrently.
func (s *Store) Summary(ctx context.Context, r Range, recent int) (*Summary, error) {
	out := &Summary{Range: r}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Totals, err = s.Totals(ctx, r)
		return err
	})
	g.Go(func() (err error) {
		out.UniqueVisitors, err = s.UniqueVisitors(ctx, r)
		return err
	})
	g.Go(func() (err error) {
		out.TopPosts, err = s.TopPosts(ctx, r, 10)
		return err
	})
	g.Go(func() (err error) {
		out.Recent, err = s.RecentActivity(ctx, recent)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregate is one post's rolled-up metrics for one UTC day.
type Aggregate struct {
	PostID    string    `db:"post_id" json:"post_id"`
	Title     string    `db:"title" json:"title,omitempty"`
	Day       string    `db:"day" json:"day"`
	Views     int       `db:"views" json:"views"`
	Uniques   int       `db:"uniques" json:"uniques"`
	AvgTime   *float64  `db:"avg_time" json:"avg_time,omitempty"`
	Scroll50  int       `db:"scroll_50" json:"scroll_50"`
	Shares    int       `db:"shares" json:"shares"`
	CTAClicks int       `db:"cta_clicks" json:"cta_clicks"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type rollupRow struct {
	Type   EventType `db:"event_type"`
	PostID string    `db:"post_id"`
	AnonID *string   `db:"anon_id"`
	Meta   *string   `db:"meta"`
}

type accumulator struct {
	agg       Aggregate
	visitors  map[string]struct{}
	timeSum   float64
	timeCount int
}

// RollupDay recomputes the aggregates of every post with events on the
// UTC day containing day. Rerunning it for the same day overwrites the
// previous result, so it is safe to schedule repeatedly.
func (s *Store) RollupDay(ctx context.Context, day time.Time) ([]Aggregate, error) {
	start := Day(day)
	key := DayKey(start)

	var rows []rollupRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT event_type, post_id, anon_id, meta FROM events
		WHERE post_id IS NOT NULL AND created_at >= ? AND created_at < ?`), start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", key, err)
	}

	byPost := map[string]*accumulator{}
	for _, row := range rows {
		acc, ok := byPost[row.PostID]
		if !ok {
			acc = &accumulator{agg: Aggregate{PostID: row.PostID, Day: key}, visitors: map[string]struct{}{}}
			byPost[row.PostID] = acc
		}
		meta := gjson.Result{}
		if row.Meta != nil {
			meta = gjson.Parse(*row.Meta)
		}
		switch row.Type {
		case EventPostOpened:
			acc.agg.Views++
			if row.AnonID != nil {
				acc.visitors[*row.AnonID] = struct{}{}
			}
		case EventPostScrolled:
			if meta.Get("final").Bool() {
				if t := meta.Get("time_on_page"); t.Exists() && t.Float() >= 0 {
					acc.timeSum += t.Float()
					acc.timeCount++
				}
				continue
			}
			if meta.Get("scroll_percent").Float() >= 50 {
				acc.agg.Scroll50++
			}
		case EventPostShared:
			acc.agg.Shares++
		case EventCTAClicked:
			acc.agg.CTAClicks++
		}
	}

	now := s.now().UTC()
	out := make([]Aggregate, 0, len(byPost))
	for _, acc := range byPost {
		acc.agg.Uniques = len(acc.visitors)
		if acc.timeCount > 0 {
			avg := acc.timeSum / float64(acc.timeCount)
			acc.agg.AvgTime = &avg
		}
		acc.agg.UpdatedAt = now
		out = append(out, acc.agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PostID < out[j].PostID })

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck
	for _, a := range out {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO post_aggregates
			(post_id, day, views, uniques, avg_time, scroll_50, shares, cta_clicks, updated_at)
			VALUES (:post_id, :day, :views, :uniques, :avg_time, :scroll_50, :shares, :cta_clicks, :updated_at)
			ON CONFLICT (post_id, day) DO UPDATE SET
				views = excluded.views, uniques = excluded.uniques, avg_time = excluded.avg_time,
				scroll_50 = excluded.scroll_50, shares = excluded.shares,
				cta_clicks = excluded.cta_clicks, updated_at = excluded.updated_at`, a)
		if err != nil {
			return nil, fmt.Errorf("store aggregate %s/%s: %w", a.PostID, key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Aggregates returns stored daily aggregates for days in [from, to), newest
// day first. An empty postID returns every post. Zero bounds are open.
func (s *Store) Aggregates(ctx context.Context, postID string, from, to time.Time) ([]Aggregate, error) {
	q := `SELECT a.post_id, COALESCE(p.title, '') AS title, a.day, a.views, a.uniques, a.avg_time,
			a.scroll_50, a.shares, a.cta_clicks, a.updated_at
		FROM post_aggregates a LEFT JOIN posts p ON p.id = a.post_id WHERE 1 = 1`
	var args []any
	if postID != "" {
		q += ` AND a.post_id = ?`
		args = append(args, postID)
	}
	if !from.IsZero() {
		q += ` AND a.day >= ?`
		args = append(args, DayKey(from))
	}
	if !to.IsZero() {
		q += ` AND a.day < ?`
		args = append(args, DayKey(to))
	}
	q += ` ORDER BY a.day DESC, a.post_id`
	var out []Aggregate
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	return out, nil
}
