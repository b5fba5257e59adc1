package fileprod

import "regexp"

type contentTypeRule struct {
	pattern *regexp.Regexp
	mime    string
}

// ContentTypeMap maps path patterns to MIME types in registration order.
type ContentTypeMap struct {
	rules []contentTypeRule
}

// NewContentTypeMap returns an empty map.
func NewContentTypeMap() *ContentTypeMap {
	return &ContentTypeMap{}
}

// Add registers a pattern (matched against the whole path) with a MIME type.
func (m *ContentTypeMap) Add(pattern, mime string) {
	m.rules = append(m.rules, contentTypeRule{
		pattern: anchored(regexp.MustCompile(pattern)),
		mime:    mime,
	})
}

// Lookup returns the MIME type for a path, or "" when no rule matches.
func (m *ContentTypeMap) Lookup(path string) string {
	for _, rule := range m.rules {
		if rule.pattern.MatchString(path) {
			return rule.mime
		}
	}
	return ""
}
