package fileprod

import (
	"errors"
	"regexp"
	"strings"
)

// maxAliasDepth bounds fixed-point expansion; exceeding it is reported as a
// cycle.
const maxAliasDepth = 32

// ErrAliasCycle is returned when alias expansion does not reach a fixed
// point. The request pipeline maps it to HTTP 500.
var ErrAliasCycle = errors.New("fileprod: alias cycle")

type aliasRule struct {
	literal  string
	pattern  *regexp.Regexp
	template string
}

// AliasTable rewrites paths before producer lookup. Rules are applied in
// registration order; the first matching rule rewrites the path and the scan
// restarts, until no rule matches.
type AliasTable struct {
	rules []aliasRule
}

// NewAliasTable returns an empty table.
func NewAliasTable() *AliasTable {
	return &AliasTable{}
}

// AddLiteral maps an exact path to a replacement.
func (t *AliasTable) AddLiteral(path, target string) {
	t.rules = append(t.rules, aliasRule{literal: path, template: target})
}

// AddPattern maps paths fully matching pattern to the expansion of template,
// with \0..\9 backreferences into the match.
func (t *AliasTable) AddPattern(pattern *regexp.Regexp, template string) {
	t.rules = append(t.rules, aliasRule{pattern: anchored(pattern), template: template})
}

// Resolve expands aliases to a fixed point.
func (t *AliasTable) Resolve(path string) (string, error) {
	for depth := 0; depth < maxAliasDepth; depth++ {
		next, matched := t.step(path)
		if !matched {
			return path, nil
		}
		path = next
	}
	return "", ErrAliasCycle
}

func (t *AliasTable) step(path string) (string, bool) {
	for _, rule := range t.rules {
		if rule.pattern == nil {
			if rule.literal == path {
				return rule.template, true
			}
			continue
		}
		if m := rule.pattern.FindStringSubmatch(path); m != nil {
			return Expand(rule.template, m), true
		}
	}
	return path, false
}

// Expand substitutes \0..\9 in template with the corresponding match groups
// (\0 is the whole match); \\ produces a literal backslash. Out-of-range
// references expand to nothing.
func Expand(template string, groups []string) string {
	var b strings.Builder
	for i := 0; i < len(template); i++ {
		ch := template[i]
		if ch != '\\' || i+1 >= len(template) {
			b.WriteByte(ch)
			continue
		}
		i++
		next := template[i]
		switch {
		case next == '\\':
			b.WriteByte('\\')
		case next >= '0' && next <= '9':
			idx := int(next - '0')
			if idx < len(groups) {
				b.WriteString(groups[idx])
			}
		default:
			b.WriteByte('\\')
			b.WriteByte(next)
		}
	}
	return b.String()
}

// anchored wraps a pattern so it must match the whole path.
func anchored(re *regexp.Regexp) *regexp.Regexp {
	src := re.String()
	if strings.HasPrefix(src, "^") && strings.HasSuffix(src, "$") {
		return re
	}
	return regexp.MustCompile("^(?:" + src + ")$")
}
