package hooks

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/fileprod"
	"github.com/instant-hq/instant/internal/logging"
)

// MagicCookieHeader is sent on every successful upgrade response. Its value
// is a fresh random token, quoted.
const MagicCookieHeader = "X-Magic-Cookie"

// ConnectFunc receives ownership of an upgraded socket. room is the tag the
// matching route extracted from the path (empty for the API endpoint).
type ConnectFunc func(conn *websocket.Conn, room string, data *RequestData)

type wsRoute struct {
	pattern  *regexp.Regexp
	template string
}

// WebSocketHook upgrades requests whose path matches one of its whitelisted
// routes. Each route maps the path to a room tag through a backreference
// template.
type WebSocketHook struct {
	upgrader  websocket.Upgrader
	routes    []wsRoute
	allow     func(c *gin.Context) bool
	onConnect ConnectFunc
}

// NewWebSocketHook builds an upgrade hook. allow is an optional pre-upgrade
// gate (rate limiting); nil admits everything.
func NewWebSocketHook(checkOrigin func(r *http.Request) bool, allow func(c *gin.Context) bool, onConnect ConnectFunc) *WebSocketHook {
	return &WebSocketHook{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		allow:     allow,
		onConnect: onConnect,
	}
}

// AddRoute whitelists a path pattern. The pattern must match the whole path;
// template expands to the room tag with \0..\9 backreferences.
func (h *WebSocketHook) AddRoute(pattern *regexp.Regexp, template string) {
	h.routes = append(h.routes, wsRoute{pattern: anchor(pattern), template: template})
}

func (h *WebSocketHook) Handle(c *gin.Context) bool {
	var room string
	matched := false
	for _, route := range h.routes {
		if m := route.pattern.FindStringSubmatch(c.Request.URL.Path); m != nil {
			room = fileprod.Expand(route.template, m)
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	// A plain HTTP request on a WS path is not ours; let the chain 404 it.
	if !websocket.IsWebSocketUpgrade(c.Request) {
		return false
	}
	if h.allow != nil && !h.allow(c) {
		c.String(http.StatusTooManyRequests, "429 too many requests")
		return true
	}

	// Snapshot before the upgrade consumes the request.
	data := Capture(c.Request, map[string]string{"room": room})
	magic := magicCookie()
	data.Extra["magic"] = magic

	header := http.Header{}
	header.Set(MagicCookieHeader, `"`+magic+`"`)
	header.Set("Content-Type", "application/x-websocket")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		// Upgrade already wrote the error response.
		logging.GetLogger().Warn("websocket upgrade failed",
			zap.String("path", c.Request.URL.Path), zap.Error(err))
		return true
	}

	h.onConnect(conn, room, data)
	return true
}

// magicCookie returns 12 random bytes, base64 encoded.
func magicCookie() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf)
}
