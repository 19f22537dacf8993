package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
)

const (
	maxBodyBytes = MaxMetaBytes + 1024
	// maxUserAgent caps the user agent recorded on post_opened.
	maxUserAgent = 512
)

// HandlerConfig wires the ingestion endpoint.
type HandlerConfig struct {
	Recorder Recorder
	// Store backs the admin endpoints. It may be nil when only ingestion
	// is mounted.
	Store   *Store
	Limiter Limiter
	Metrics *Metrics
	Hub     *Hub
	// HonorDNT acknowledges requests carrying DNT: 1 without storing them.
	HonorDNT bool
	// DropBots acknowledges requests from crawler user agents without
	// storing them.
	DropBots bool
}

// Handler serves analytics HTTP endpoints.
type Handler struct {
	cfg HandlerConfig
	now func() time.Time
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Recorder == nil && cfg.Store != nil {
		cfg.Recorder = cfg.Store
	}
	return &Handler{cfg: cfg, now: time.Now}
}

type ingestRequest struct {
	EventType EventType       `json:"event_type"`
	PostID    string          `json:"post_id"`
	Meta      json.RawMessage `json:"meta"`
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields validation.Errors `json:"fields,omitempty"`
}

var ackResponse = map[string]bool{"success": true}

// Ingest handles POST /api/analytics. The body is JSON whatever the
// Content-Type, since navigator.sendBeacon posts text/plain.
func (h *Handler) Ingest(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	log := zerolog.Ctx(ctx)

	if h.cfg.Limiter != nil {
		ok, err := h.cfg.Limiter.Allow(ctx, c.RealIP())
		if err != nil {
			log.Warn().Err(err).Msg("analytics rate limiter unavailable")
		} else if !ok {
			h.cfg.Metrics.reject("rate_limited")
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
		}
	}

	if h.cfg.HonorDNT && req.Header.Get("DNT") == "1" {
		h.cfg.Metrics.reject("dnt")
		return c.JSON(http.StatusOK, ackResponse)
	}
	if h.cfg.DropBots && IsBot(req.UserAgent()) {
		h.cfg.Metrics.reject("bot")
		return c.JSON(http.StatusOK, ackResponse)
	}

	var body ingestRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.cfg.Metrics.reject("malformed")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	meta := body.Meta
	if string(meta) == "null" {
		meta = nil
	}
	e := Event{
		Type:   body.EventType,
		PostID: strings.TrimSpace(body.PostID),
		Meta:   meta,
	}
	if err := e.Validate(); err != nil {
		h.cfg.Metrics.reject("invalid")
		return c.JSON(http.StatusBadRequest, validationResponse(err))
	}

	// The anonymous id is only trusted from the cookie.
	if len(e.Meta) > 0 {
		stripped, err := sjson.DeleteBytes(e.Meta, CookieName)
		if err == nil {
			e.Meta = stripped
		}
	}
	// Opens carry the browser's user agent, taken from the request header
	// rather than the body.
	if e.Type == EventPostOpened {
		if ua := truncate(req.UserAgent(), maxUserAgent); ua != "" {
			base := e.Meta
			if len(base) == 0 {
				base = []byte(`{}`)
			}
			if withUA, err := sjson.SetBytes(base, "user_agent", ua); err == nil {
				e.Meta = withUA
			}
		}
	}
	if ck, err := c.Cookie(CookieName); err == nil && ValidAnonID(ck.Value) {
		e.AnonID = ck.Value
	}
	e.CreatedAt = h.now().UTC()

	if err := h.cfg.Recorder.Record(ctx, e); err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Msg("analytics insert failed")
		h.cfg.Metrics.reject("storage")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to record event"})
	}
	h.cfg.Metrics.stored(e.Type)
	h.cfg.Hub.Publish(e)
	return c.JSON(http.StatusOK, ackResponse)
}

func validationResponse(err error) errorResponse {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return errorResponse{Error: err.Error()}
	}
	keys := make([]string, 0, len(verrs))
	for k := range verrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return errorResponse{Error: verrs[keys[0]].Error(), Fields: verrs}
}

// StatsResponse is the JSON body of the admin stats endpoint.
type StatsResponse struct {
	Period         string            `json:"period"`
	From           *time.Time        `json:"from,omitempty"`
	To             *time.Time        `json:"to,omitempty"`
	Totals         map[EventType]int `json:"totals"`
	UniqueVisitors int               `json:"unique_visitors"`
	TopPosts       []PostStat        `json:"top_posts"`
	Recent         []Activity        `json:"recent"`
}

// Stats returns the analytics overview as JSON.
func (h *Handler) Stats(c echo.Context) error {
	period, r := ParsePeriod(c.QueryParam("period"), h.now())
	s, err := h.cfg.Store.Summary(c.Request().Context(), r, 20)
	if err != nil {
		return fmt.Errorf("analytics summary: %w", err)
	}
	resp := StatsResponse{
		Period:         period,
		Totals:         s.Totals,
		UniqueVisitors: s.UniqueVisitors,
		TopPosts:       s.TopPosts,
		Recent:         s.Recent,
	}
	if !r.From.IsZero() {
		resp.From, resp.To = &r.From, &r.To
	}
	return c.JSON(http.StatusOK, resp)
}

// Export streams the overview and the daily aggregates as an XLSX file.
func (h *Handler) Export(c echo.Context) error {
	ctx := c.Request().Context()
	period, r := ParsePeriod(c.QueryParam("period"), h.now())
	s, err := h.cfg.Store.Summary(ctx, r, 100)
	if err != nil {
		return fmt.Errorf("analytics summary: %w", err)
	}
	aggs, err := h.cfg.Store.Aggregates(ctx, "", r.From, r.To)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("analytics-%s-%s.xlsx", period, DayKey(h.now()))
	c.Response().Header().Set(echo.HeaderContentType, XLSXContentType)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	c.Response().WriteHeader(http.StatusOK)
	return WriteXLSX(c.Response(), s, aggs)
}

// Live upgrades to a websocket that streams newly ingested events.
func (h *Handler) Live(c echo.Context) error {
	if h.cfg.Hub == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	return h.cfg.Hub.Serve(c.Request().Context(), c.Response(), c.Request())
}

// ParsePeriod maps the period query parameter to a time range. Unknown
// values fall back to the last seven days.
func ParsePeriod(period string, now time.Time) (string, Range) {
	today := Day(now)
	tomorrow := today.AddDate(0, 0, 1)
	switch period {
	case "today":
		return period, Range{From: today, To: tomorrow}
	case "month":
		return period, Range{From: tomorrow.AddDate(0, 0, -30), To: tomorrow}
	case "year":
		return period, Range{From: tomorrow.AddDate(0, 0, -365), To: tomorrow}
	case "all":
		return period, Range{}
	default:
		return "week", Range{From: tomorrow.AddDate(0, 0, -7), To: tomorrow}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
