package hooks

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/instant-hq/instant/internal/fileprod"
)

// RedirectHook answers paths matching a pattern with a redirect to the
// expansion of a backreference template (the canonical-trailing-slash rule
// for room URLs).
type RedirectHook struct {
	pattern  *regexp.Regexp
	template string
	code     int
}

// NewRedirectHook builds a redirect hook. The pattern must match the whole
// path; template uses \0..\9 backreferences.
func NewRedirectHook(pattern *regexp.Regexp, template string, code int) *RedirectHook {
	return &RedirectHook{pattern: anchor(pattern), template: template, code: code}
}

func (h *RedirectHook) Handle(c *gin.Context) bool {
	m := h.pattern.FindStringSubmatch(c.Request.URL.Path)
	if m == nil {
		return false
	}
	target := fileprod.Expand(h.template, m)
	if raw := c.Request.URL.RawQuery; raw != "" {
		target += "?" + raw
	}
	c.Redirect(h.code, target)
	return true
}

func anchor(re *regexp.Regexp) *regexp.Regexp {
	src := re.String()
	if strings.HasPrefix(src, "^") && strings.HasSuffix(src, "$") {
		return re
	}
	return regexp.MustCompile("^(?:" + src + ")$")
}
