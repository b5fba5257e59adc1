package hooks

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/fileprod"
	"github.com/instant-hq/instant/internal/logging"
)

// StaticHook serves GET requests out of a file producer pipeline. Paths no
// producer claims are declined to the next hook; producer failures and alias
// cycles are answered with 500 here, since a later hook could not do better.
type StaticHook struct {
	pipeline *fileprod.Pipeline
	maxAge   int
}

// NewStaticHook builds a static hook. maxAge is the Cache-Control max-age in
// seconds; zero disables the header.
func NewStaticHook(pipeline *fileprod.Pipeline, maxAge int) *StaticHook {
	return &StaticHook{pipeline: pipeline, maxAge: maxAge}
}

func (h *StaticHook) Handle(c *gin.Context) bool {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return false
	}

	blob, err := h.pipeline.Get(c.Request.URL.Path)
	if err != nil {
		if errors.Is(err, fileprod.ErrAliasCycle) {
			logging.GetLogger().Warn("alias cycle", zap.String("path", c.Request.URL.Path))
		} else {
			logging.GetLogger().Error("producer failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		}
		c.String(http.StatusInternalServerError, "500 internal server error")
		return true
	}
	if blob == nil {
		return false
	}

	if blob.ContentType != "" {
		c.Header("Content-Type", blob.ContentType)
	}
	if h.maxAge > 0 {
		c.Header("Cache-Control", fmt.Sprintf("max-age=%d", h.maxAge))
	}
	if c.Request.Method == http.MethodHead {
		c.Header("Content-Length", fmt.Sprint(len(blob.Data)))
		c.Status(http.StatusOK)
		return true
	}
	c.Data(http.StatusOK, blob.ContentType, blob.Data)
	return true
}
