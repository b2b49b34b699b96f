package record

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	markupOrSpace = regexp.MustCompile(`<.*?>|\s+`)
)

// Rule canonicalizes a single field value
type Rule func(string) string

// Identity leaves the value untouched
func Identity(s string) string {
	return s
}

// CollapseWhitespace removes every whitespace run, newlines included.
// Source pages render announcements with whitespace inside words, so the
// runs are dropped instead of being replaced with a single space.
func CollapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(s, "")
}

// StripMarkup removes tags and whitespace runs
func StripMarkup(s string) string {
	return markupOrSpace.ReplaceAllString(s, "")
}

// Normalizer applies per-field rules to extracted rows
type Normalizer struct {
	Default Rule
	Fields  map[string]Rule
}

// Apply returns a canonicalized copy of fields. Field order is preserved.
func (n Normalizer) Apply(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.Name, Value: n.rule(f.Name)(f.Value)}
	}
	return out
}

func (n Normalizer) rule(name string) Rule {
	if r, ok := n.Fields[name]; ok && r != nil {
		return r
	}
	if n.Default != nil {
		return n.Default
	}
	return strings.TrimSpace
}
