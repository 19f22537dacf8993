package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"
)

type memoryRecorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *memoryRecorder) Record(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *memoryRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type ingestCase struct {
	body        string
	contentType string
	cookie      string
	headers     map[string]string
}

func ingest(t *testing.T, h *Handler, tc ingestCase) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/analytics", strings.NewReader(tc.body))
	if tc.contentType != "" {
		req.Header.Set(echo.HeaderContentType, tc.contentType)
	}
	if tc.cookie != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: tc.cookie})
	}
	for k, v := range tc.headers {
		req.Header.Set(k, v)
	}
	req.RemoteAddr = "198.51.100.7:5555"
	rec := httptest.NewRecorder()
	require.NoError(t, h.Ingest(e.NewContext(req, rec)))
	return rec
}

func TestIngestStoresEvent(t *testing.T) {
	rec := &memoryRecorder{}
	hub := NewHub()
	feed, stop := hub.Subscribe()
	defer stop()
	metrics := NewMetrics(prometheus.NewRegistry())
	h := NewHandler(HandlerConfig{Recorder: rec, Metrics: metrics, Hub: hub})

	resp := ingest(t, h, ingestCase{
		body:        `{"event_type":"post_opened","post_id":"p1","meta":{"referrer":"https://news.example","anon_id":"forged-id-123"}}`,
		contentType: echo.MIMEApplicationJSON,
		cookie:      "4b1f3c2e-aaaa-bbbb-cccc-0123456789ab",
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"success":true}`, resp.Body.String())

	events := rec.all()
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, EventPostOpened, got.Type)
	assert.Equal(t, "p1", got.PostID)
	assert.Equal(t, "4b1f3c2e-aaaa-bbbb-cccc-0123456789ab", got.AnonID, "anon id comes from the cookie")
	assert.False(t, gjson.GetBytes(got.Meta, "anon_id").Exists(), "client anon_id is stripped")
	assert.Equal(t, "https://news.example", gjson.GetBytes(got.Meta, "referrer").String())
	assert.WithinDuration(t, time.Now(), got.CreatedAt, 5*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.events.WithLabelValues("post_opened")))

	select {
	case msg := <-feed:
		assert.Equal(t, "post_opened", gjson.GetBytes(msg, "event_type").String())
		assert.False(t, gjson.GetBytes(msg, "anon_id").Exists())
	case <-time.After(time.Second):
		t.Fatal("live feed did not receive the event")
	}
}

func TestIngestAcceptsBeaconPlainText(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(HandlerConfig{Recorder: rec})

	resp := ingest(t, h, ingestCase{
		body:        `{"event_type":"post_scrolled","post_id":"p1","meta":{"time_on_page":42,"final":true}}`,
		contentType: "text/plain;charset=UTF-8",
	})
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, rec.all(), 1)
	assert.Equal(t, int64(42), gjson.GetBytes(rec.all()[0].Meta, "time_on_page").Int())
	assert.Empty(t, rec.all()[0].AnonID, "no cookie, no anon id")
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing type", `{"post_id":"p1"}`, "event_type is required"},
		{"unknown type", `{"event_type":"page_view"}`, "invalid event_type"},
		{"meta not object", `{"event_type":"post_shared","meta":"linkedin"}`, "meta must be a JSON object"},
		{"malformed", `{"event_type":`, "Invalid request body"},
		{"empty", ``, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memoryRecorder{}
			h := NewHandler(HandlerConfig{Recorder: rec})
			resp := ingest(t, h, ingestCase{body: tt.body, contentType: echo.MIMEApplicationJSON})
			assert.Equal(t, http.StatusBadRequest, resp.Code)
			assert.Equal(t, tt.want, gjson.Get(resp.Body.String(), "error").String())
			assert.Empty(t, rec.all())
		})
	}
}

func TestIngestRecordsUserAgentOnOpen(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(HandlerConfig{Recorder: rec})
	ua := "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"

	resp := ingest(t, h, ingestCase{
		body:        `{"event_type":"post_opened","post_id":"p1","meta":{"slug":"s","referrer":"https://x","user_agent":"forged"}}`,
		contentType: "text/plain;charset=UTF-8",
		headers:     map[string]string{"User-Agent": ua},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = ingest(t, h, ingestCase{
		body:    `{"event_type":"post_opened","post_id":"p2"}`,
		headers: map[string]string{"User-Agent": ua + strings.Repeat("x", 600)},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	resp = ingest(t, h, ingestCase{
		body:    `{"event_type":"cta_clicked","post_id":"p1","meta":{"cta":"apply"}}`,
		headers: map[string]string{"User-Agent": ua},
	})
	require.Equal(t, http.StatusOK, resp.Code)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, ua, gjson.GetBytes(events[0].Meta, "user_agent").String(), "the header wins over the body")
	assert.Equal(t, "s", gjson.GetBytes(events[0].Meta, "slug").String())
	assert.Equal(t, "https://x", gjson.GetBytes(events[0].Meta, "referrer").String())
	assert.Len(t, gjson.GetBytes(events[1].Meta, "user_agent").String(), maxUserAgent)
	assert.False(t, gjson.GetBytes(events[2].Meta, "user_agent").Exists())
}

func TestIngestNullMetaAndPost(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(HandlerConfig{Recorder: rec})
	resp := ingest(t, h, ingestCase{body: `{"event_type":"cta_clicked","post_id":null,"meta":null}`})
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, rec.all(), 1)
	assert.Empty(t, rec.all()[0].PostID)
	assert.Nil(t, rec.all()[0].Meta)
}

func TestIngestStorageFailure(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("database is locked")}
	metrics := NewMetrics(nil)
	h := NewHandler(HandlerConfig{Recorder: rec, Metrics: metrics})

	resp := ingest(t, h, ingestCase{body: `{"event_type":"post_opened","post_id":"p1"}`})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.JSONEq(t, `{"error":"Failed to record event"}`, resp.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.rejected.WithLabelValues("storage")))
}

func TestIngestStorageFailureWithClosedDB(t *testing.T) {
	f := newStoreFixture(t)
	require.NoError(t, f.store.db.Close())
	h := NewHandler(HandlerConfig{Store: f.store})

	resp := ingest(t, h, ingestCase{body: `{"event_type":"post_opened","post_id":"p1"}`})
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestIngestRateLimited(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(HandlerConfig{Recorder: rec, Limiter: NewMemoryLimiter(2, time.Minute)})
	body := `{"event_type":"post_opened","post_id":"p1"}`

	assert.Equal(t, http.StatusOK, ingest(t, h, ingestCase{body: body}).Code)
	assert.Equal(t, http.StatusOK, ingest(t, h, ingestCase{body: body}).Code)
	assert.Equal(t, http.StatusTooManyRequests, ingest(t, h, ingestCase{body: body}).Code)
	assert.Len(t, rec.all(), 2)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("connection refused")
}

func TestIngestFailsOpenWhenLimiterDown(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(HandlerConfig{Recorder: rec, Limiter: brokenLimiter{}})
	resp := ingest(t, h, ingestCase{body: `{"event_type":"post_opened"}`})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, rec.all(), 1)
}

func TestIngestDropsDNTAndBots(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(HandlerConfig{Recorder: rec, HonorDNT: true, DropBots: true})
	body := `{"event_type":"post_opened","post_id":"p1"}`

	resp := ingest(t, h, ingestCase{body: body, headers: map[string]string{"DNT": "1"}})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"success":true}`, resp.Body.String())

	resp = ingest(t, h, ingestCase{body: body, headers: map[string]string{"User-Agent": "Googlebot/2.1"}})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, rec.all())

	// Both switches off: stored.
	h = NewHandler(HandlerConfig{Recorder: rec})
	ingest(t, h, ingestCase{body: body, headers: map[string]string{"DNT": "1", "User-Agent": "Googlebot/2.1"}})
	assert.Len(t, rec.all(), 1)
}

func TestIngestIgnoresMalformedCookie(t *testing.T) {
	rec := &memoryRecorder{}
	h := NewHandler(HandlerConfig{Recorder: rec})
	ingest(t, h, ingestCase{body: `{"event_type":"post_opened"}`, cookie: "<script>"})
	require.Len(t, rec.all(), 1)
	assert.Empty(t, rec.all()[0].AnonID)
}

func TestStatsAndExport(t *testing.T) {
	f := newStoreFixture(t)
	f.record(t, EventPostOpened, f.post.ID, "reader-1111", "", time.Now().UTC())
	_, err := f.store.RollupDay(context.Background(), time.Now())
	require.NoError(t, err)
	h := NewHandler(HandlerConfig{Store: f.store})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/admin/analytics?period=today", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Stats(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "today", stats.Period)
	assert.Equal(t, 1, stats.Totals[EventPostOpened])
	assert.Equal(t, 1, stats.UniqueVisitors)
	require.Len(t, stats.Recent, 1)

	req = httptest.NewRequest(http.MethodGet, "/admin/analytics/export.xlsx", nil)
	rec = httptest.NewRecorder()
	require.NoError(t, h.Export(e.NewContext(req, rec)))
	assert.Equal(t, XLSXContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "analytics-week-")

	book, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{overviewSheet, dailySheet, activitySheet}, book.GetSheetList())
	views, err := book.GetCellValue(overviewSheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "1", views)
	title, err := book.GetCellValue(dailySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Hiring", title)
}
