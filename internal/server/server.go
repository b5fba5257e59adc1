// Package server assembles the HTTP surface: the gin engine, the hook chain,
// the producer pipeline and the WebSocket wiring.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/config"
	"github.com/instant-hq/instant/internal/cookies"
	"github.com/instant-hq/instant/internal/fileprod"
	"github.com/instant-hq/instant/internal/health"
	"github.com/instant-hq/instant/internal/hooks"
	"github.com/instant-hq/instant/internal/logging"
	"github.com/instant-hq/instant/internal/ratelimit"
	"github.com/instant-hq/instant/internal/room"
	"github.com/instant-hq/instant/internal/uid"
	"github.com/instant-hq/instant/internal/webdata"
)

// Version is the protocol-visible server version, reported by
// /static/version.js.
const Version = "1.4.3"

// roomNamePattern constrains room names in URLs: a letter, then letters,
// digits, underscores or dashes, not ending in a separator.
const roomNamePattern = `[a-zA-Z](?:[a-zA-Z0-9_-]*[a-zA-Z0-9])?`

// shutdownGrace bounds how long Shutdown waits for close frames to flush.
const shutdownGrace = 5 * time.Second

// Server owns the process state: room group, distributor, producer pipeline
// and the HTTP listener.
type Server struct {
	cfg    *config.Config
	codec  *cookies.Codec
	issuer *cookies.Issuer

	group *room.Group
	dist  *room.Distributor

	pipeline *fileprod.Pipeline
	engine   *gin.Engine
	httpSrv  *http.Server
}

// New builds a fully wired but not yet listening server. accessLogger may be
// nil to disable access logging (tests).
func New(cfg *config.Config, accessLogger *zap.Logger) (*Server, error) {
	key, err := cookies.LoadOrCreateKey(cfg.CookieKeyFile)
	if err != nil {
		return nil, err
	}
	codec := cookies.NewCodec(key)

	alloc := uid.NewAllocator()
	group := room.NewGroup(alloc)

	s := &Server{
		cfg:      cfg,
		codec:    codec,
		issuer:   cookies.NewIssuer(codec, cfg.SecureCookies()),
		group:    group,
		dist:     room.NewDistributor(group),
		pipeline: buildPipeline(cfg),
	}

	if err := s.buildEngine(accessLogger); err != nil {
		return nil, err
	}
	return s, nil
}

// Group exposes the room registry (health endpoints, tests).
func (s *Server) Group() *room.Group { return s.group }

// Handler returns the HTTP handler, for mounting under a test listener.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) buildEngine(accessLogger *zap.Logger) error {
	engine := gin.New()
	engine.Use(gin.Recovery())
	if accessLogger != nil {
		engine.Use(accessLog(accessLogger))
	}
	engine.Use(cors.Default())

	httpLimiter, err := ratelimit.New(s.cfg.RateLimitHTTP)
	if err != nil {
		return fmt.Errorf("http rate limit %q: %w", s.cfg.RateLimitHTTP, err)
	}
	engine.Use(ratelimit.HTTPMiddleware(httpLimiter))
	engine.Use(s.issuer.Middleware())

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	health.NewHandler(s.group).Register(engine)

	wsLimiter, err := ratelimit.New(s.cfg.RateLimitWsIP)
	if err != nil {
		return fmt.Errorf("websocket rate limit %q: %w", s.cfg.RateLimitWsIP, err)
	}

	wsHook := hooks.NewWebSocketHook(
		func(*http.Request) bool { return true },
		ratelimit.WSGate(wsLimiter),
		s.handleSocket,
	)
	wsHook.AddRoute(regexp.MustCompile(`/room/(`+roomNamePattern+`)/ws`), `\1`)
	wsHook.AddRoute(regexp.MustCompile(`/api/ws`), ``)

	chain := hooks.NewRegistry(
		wsHook,
		hooks.NewRedirectHook(
			regexp.MustCompile(`/room/`+roomNamePattern),
			`\0/`, http.StatusMovedPermanently),
		hooks.NewStaticHook(s.pipeline, s.cfg.MaxCacheAgeSecs),
	)
	engine.NoRoute(chain.Handler())

	s.engine = engine
	return nil
}

// buildPipeline assembles the alias table, content types and producer chain.
// The webroot producer is consulted before the embedded fallback, so on-disk
// files always win.
func buildPipeline(cfg *config.Config) *fileprod.Pipeline {
	aliases := fileprod.NewAliasTable()
	aliases.AddLiteral("/", "/pages/main.html")
	aliases.AddLiteral("/favicon.ico", "/static/logo-static_128x128.ico")
	aliases.AddPattern(regexp.MustCompile(`/([^/]+)\.html`), `/pages/\1.html`)
	aliases.AddPattern(regexp.MustCompile(`/room/`+roomNamePattern+`/`), `/static/room.html`)

	ctypes := fileprod.NewContentTypeMap()
	ctypes.Add(`.*\.html`, "text/html; charset=utf-8")
	ctypes.Add(`.*\.css`, "text/css; charset=utf-8")
	ctypes.Add(`.*\.js`, "application/javascript; charset=utf-8")
	ctypes.Add(`.*\.svg`, "image/svg+xml; charset=utf-8")
	ctypes.Add(`.*\.png`, "image/png")
	ctypes.Add(`.*\.ico`, "image/vnd.microsoft.icon")

	synthetic := fileprod.NewStringProducer()
	synthetic.Put("/static/version.js", versionScript())

	files := fileprod.NewFSProducer(cfg.Webroot)
	files.Whitelist(`/pages/.*`)
	files.Whitelist(`/static/.*`)

	return fileprod.NewPipeline(aliases, ctypes, cfg.MaxCacheAge(),
		synthetic,
		files,
		fileprod.NewResourceProducer(webdata.FS),
	)
}

// versionScript renders /static/version.js. The revision comes from the
// build's VCS stamp when available.
func versionScript() string {
	revision := "null"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				revision = fmt.Sprintf("%q", setting.Value)
				break
			}
		}
	}
	return fmt.Sprintf("this._instantVersion_ = {version: %q, revision: %s};\n", Version, revision)
}

// handleSocket receives ownership of an upgraded socket from the WebSocket
// hook and turns it into a registered client with running pumps.
func (s *Server) handleSocket(conn *websocket.Conn, roomTag string, data *hooks.RequestData) {
	c := room.NewClient(s.group.Allocator().Next(), conn, room.ClientOptions{
		RemoteAddr: data.RemoteAddr,
		UserAgent:  data.UserAgent,
		Referer:    data.Referer,
		SessionID:  s.sessionID(data),
		QueueDepth: s.cfg.SendQueueDepth,
		FrameRate:  s.cfg.InboundFrameRate,
	})

	// Register before the read pump starts so the first inbound frame finds
	// the client in its room.
	s.dist.HandleConnect(c, roomTag)

	go c.WritePump()
	go c.ReadPump(s.dist)
}

// sessionID recovers the identity UUID from the signed cookie the upgrade
// request carried, if any.
func (s *Server) sessionID(data *hooks.RequestData) string {
	raw, ok := data.Cookies[cookies.CookieName]
	if !ok {
		return ""
	}
	payload, ok := s.codec.Verify(raw)
	if !ok {
		return ""
	}
	var ident cookies.Identity
	if err := json.Unmarshal(payload, &ident); err != nil {
		return ""
	}
	return ident.UUID
}

// Run listens until the context is canceled, then drains connections and
// shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr(),
		Handler: s.engine,
	}

	errc := make(chan error, 1)
	go func() {
		logging.Info(ctx, "Listening", zap.String("addr", s.cfg.Addr()))
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown closes all client connections and stops the listener.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.group.Shutdown(ctx)
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// accessLog emits one structured line per request on the access logger.
func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.String("referer", c.Request.Referer()),
		)
	}
}
