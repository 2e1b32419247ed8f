package snapshot

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var captionPolicy = bluemonday.StrictPolicy()

// Caption is the text shown under the overlay preview. Page titles and
// failure reasons come from arbitrary pages, so markup is stripped.
func Caption(s *PageSnapshot) string {
	if s == nil {
		return "Preview unavailable"
	}
	if s.Error != nil {
		return "Preview unavailable (" + clean(*s.Error) + ")"
	}
	if s.ImageData == nil {
		return "Preview unavailable"
	}
	if title := clean(s.Title); title != "" {
		return title
	}
	return clean(s.URL)
}

func clean(s string) string {
	return strings.TrimSpace(html.UnescapeString(captionPolicy.Sanitize(s)))
}
