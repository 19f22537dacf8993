// Package richtext cleans the HTML bodies produced by the post editor and
// derives the plain-text views of them (excerpt, reading time).
package richtext

import (
	"context"
	"html"
	"io"
	"math"
	"strings"

	"github.com/a-h/templ"
	"github.com/microcosm-cc/bluemonday"
)

// ExcerptLength is the default excerpt size in characters.
const ExcerptLength = 200

// WordsPerMinute drives ReadingTime.
const WordsPerMinute = 200

var (
	bodyPolicy  = newBodyPolicy()
	stripPolicy = bluemonday.StrictPolicy()
)

func newBodyPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").OnElements("pre", "code", "span", "p", "div")
	p.AllowAttrs("loading", "decoding").OnElements("img")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Sanitize removes scripts, event handlers and any markup outside the
// editor's allow-list.
func Sanitize(body string) string {
	return strings.TrimSpace(bodyPolicy.Sanitize(body))
}

// PlainText strips all markup and collapses whitespace.
func PlainText(body string) string {
	text := html.UnescapeString(stripPolicy.Sanitize(body))
	return strings.Join(strings.Fields(text), " ")
}

// Excerpt returns the first n characters of the body's plain text.
func Excerpt(body string, n int) string {
	if n <= 0 {
		n = ExcerptLength
	}
	text := PlainText(body)
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n]))
}

// ReadingTime estimates whole minutes to read body, at least one.
func ReadingTime(body string) int {
	words := len(strings.Fields(PlainText(body)))
	minutes := int(math.Ceil(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// HTML renders a stored body. Bodies are sanitized on write; rendering
// sanitizes again so rows written by other tools are safe too.
func HTML(body string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, bodyPolicy.Sanitize(body))
		return err
	})
}
