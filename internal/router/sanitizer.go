package router

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips markup from chat text before it is stored or relayed.
// The strict policy removes every tag and HTML-escapes what is left; chat is
// plain text, so the escaping is undone before the text is stored.
type Sanitizer struct {
	policy *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{policy: bluemonday.StrictPolicy()}
}

func (s *Sanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(raw))
}
