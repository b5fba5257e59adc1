// Package health exposes liveness, readiness and a process stats endpoint.
package health

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/instant-hq/instant/internal/room"
)

// Handler serves the /health endpoints.
type Handler struct {
	group     *room.Group
	startedAt time.Time
	proc      *process.Process
}

// NewHandler wires the health endpoints to the live room group.
func NewHandler(group *room.Group) *Handler {
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Handler{
		group:     group,
		startedAt: time.Now(),
		proc:      proc,
	}
}

// Register mounts the endpoints under /health.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health/live", h.Live)
	r.GET("/health/ready", h.Ready)
	r.GET("/health/stats", h.Stats)
}

// Live reports process liveness.
func (h *Handler) Live(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Ready reports whether the server accepts traffic. The server is ready as
// soon as it listens; there is no warm-up dependency.
func (h *Handler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Stats returns a point-in-time snapshot of process and room state.
func (h *Handler) Stats(c *gin.Context) {
	rooms, clients := h.group.Counts()

	stats := gin.H{
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"goroutines":     runtime.NumGoroutine(),
		"rooms":          rooms,
		"clients":        clients,
	}

	if h.proc != nil {
		if mem, err := h.proc.MemoryInfo(); err == nil {
			stats["rss_bytes"] = mem.RSS
		}
		if cpu, err := h.proc.CPUPercent(); err == nil {
			stats["cpu_percent"] = cpu
		}
	}

	c.JSON(http.StatusOK, stats)
}
