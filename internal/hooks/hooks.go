// Package hooks implements the request pipeline: an ordered chain of handlers
// that each get a chance to claim an HTTP request. The first hook that handles
// the request wins; the chain terminates with a not-found hook.
package hooks

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
)

// Hook inspects a request and either serves it fully or declines, in which
// case the next hook in the chain is asked.
type Hook interface {
	Handle(c *gin.Context) bool
}

// Registry is the ordered hook chain.
type Registry struct {
	hooks []Hook
}

// NewRegistry builds a chain from the given hooks, in order.
func NewRegistry(hooks ...Hook) *Registry {
	return &Registry{hooks: hooks}
}

// Append adds a hook at the end of the chain.
func (r *Registry) Append(h Hook) {
	r.hooks = append(r.hooks, h)
}

// Handler runs the chain. Requests nobody claims fall through to 404.
func (r *Registry) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range r.hooks {
			if h.Handle(c) {
				return
			}
		}
		c.String(http.StatusNotFound, "404 not found: %s", c.Request.URL.Path)
	}
}

// RequestData is a hook-independent snapshot of an HTTP request, handed to
// connect callbacks after the request object itself is consumed by the
// upgrade.
type RequestData struct {
	Method     string
	Path       string
	Query      []QueryParam
	Header     http.Header
	Cookies    map[string]string
	RemoteAddr string
	Referer    string
	UserAgent  string
	Timestamp  int64
	Extra      map[string]string
}

// QueryParam preserves the order query parameters appeared on the wire.
type QueryParam struct {
	Key   string
	Value string
}

// Capture snapshots the request. extra carries hook-specific values (the
// room tag, the magic cookie) forward.
func Capture(r *http.Request, extra map[string]string) *RequestData {
	data := &RequestData{
		Method:     r.Method,
		Path:       r.URL.Path,
		Header:     r.Header.Clone(),
		Cookies:    make(map[string]string),
		RemoteAddr: r.RemoteAddr,
		Referer:    r.Referer(),
		UserAgent:  r.UserAgent(),
		Timestamp:  time.Now().UnixMilli(),
		Extra:      extra,
	}
	for _, cookie := range r.Cookies() {
		data.Cookies[cookie.Name] = cookie.Value
	}
	for _, pair := range splitQuery(r.URL.RawQuery) {
		data.Query = append(data.Query, pair)
	}
	return data
}

// splitQuery parses a raw query string keeping parameter order, which
// url.Values loses.
func splitQuery(raw string) []QueryParam {
	var out []QueryParam
	for len(raw) > 0 {
		var chunk string
		if i := indexByte(raw, '&'); i >= 0 {
			chunk, raw = raw[:i], raw[i+1:]
		} else {
			chunk, raw = raw, ""
		}
		if chunk == "" {
			continue
		}
		key, value := chunk, ""
		if i := indexByte(chunk, '='); i >= 0 {
			key, value = chunk[:i], chunk[i+1:]
		}
		out = append(out, QueryParam{Key: unescape(key), Value: unescape(value)})
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// unescape decodes percent-encoding, keeping the raw text on malformed input.
func unescape(s string) string {
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}
