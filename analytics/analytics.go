// Package analytics records anonymous reader events and turns them into
// per-post daily aggregates.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tidwall/gjson"
)

// EventType names one kind of reader interaction.
type EventType string

const (
	EventPostOpened   EventType = "post_opened"
	EventPostScrolled EventType = "post_scrolled"
	EventPostShared   EventType = "post_shared"
	EventCTAClicked   EventType = "cta_clicked"
)

// EventTypes lists every accepted event type in display order.
var EventTypes = []EventType{EventPostOpened, EventPostScrolled, EventPostShared, EventCTAClicked}

func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Label is the admin-facing name of the event type.
func (t EventType) Label() string {
	switch t {
	case EventPostOpened:
		return "Views"
	case EventPostScrolled:
		return "Scroll depth (50%+)"
	case EventPostShared:
		return "Shares"
	case EventCTAClicked:
		return "CTA clicks"
	}
	return string(t)
}

const (
	// MaxMetaBytes bounds the size of the metadata object.
	MaxMetaBytes = 4 << 10
	maxPostID    = 64
	// CookieName holds the anonymous reader id set by the client script.
	CookieName = "anon_id"
)

var anonIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{8,64}$`)

// Event is one recorded interaction. Events are append-only.
type Event struct {
	Type      EventType       `json:"event_type"`
	PostID    string          `json:"post_id,omitempty"`
	AnonID    string          `json:"-"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks the client-controlled fields of e.
func (e Event) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Type,
			validation.Required.Error("event_type is required"),
			validation.In(EventPostOpened, EventPostScrolled, EventPostShared, EventCTAClicked).Error("invalid event_type")),
		validation.Field(&e.PostID, validation.Length(0, maxPostID).Error("post_id is too long")),
		validation.Field(&e.Meta, validation.By(jsonObject)),
	)
}

func jsonObject(value any) error {
	raw, _ := value.(json.RawMessage)
	if len(raw) == 0 {
		return nil
	}
	if len(raw) > MaxMetaBytes {
		return errors.New("meta is too large")
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return errors.New("meta must be a JSON object")
	}
	return nil
}

// ValidAnonID reports whether id looks like an identifier the client
// script generated.
func ValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

// Recorder persists events. Callers treat recording as fire-and-forget:
// a failure is reported but never retried.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

// IsBot returns true if the User-Agent indicates a bot or crawler.
func IsBot(ua string) bool {
	ua = strings.ToLower(ua)
	if ua == "" {
		return false
	}
	bots := []string{
		"bot", "crawler", "spider", "crawl", "slurp", "scrape",
		"googlebot", "bingbot", "yandex", "baidu", "duckduckbot",
		"facebookexternalhit", "twitterbot", "linkedinbot",
		"ahrefsbot", "semrushbot", "mj12bot", "dotbot",
		"headlesschrome", "lighthouse",
	}
	for _, bot := range bots {
		if strings.Contains(ua, bot) {
			return true
		}
	}
	return false
}

// Day truncates t to the start of its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats t as the aggregate day key.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
