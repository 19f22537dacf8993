package content

import (
	"context"
	"fmt"
	"strings"
)

// Slugify lowercases s and joins its alphanumeric runs with single dashes.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	prev := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prev = false
		default:
			if !prev && b.Len() > 0 {
				b.WriteByte('-')
				prev = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// UniqueSlug returns base, or base with a counter suffix, such that no post
// other than exceptID uses it.
func (s *Store) UniqueSlug(ctx context.Context, base, exceptID string) (string, error) {
	if base == "" {
		base = "post"
	}
	candidate := base
	for counter := 1; counter < 1000; counter++ {
		if counter > 1 {
			candidate = fmt.Sprintf("%s-%d", base, counter)
		}
		taken, err := s.SlugTaken(ctx, candidate, exceptID)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrSlugTaken, base)
}
