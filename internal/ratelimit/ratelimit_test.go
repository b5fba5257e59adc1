package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNew_RejectsGarbage(t *testing.T) {
	_, err := New("not-a-rate")
	assert.Error(t, err)

	l, err := New("120-M")
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestHTTPMiddleware_EnforcesLimit(t *testing.T) {
	l, err := New("3-M")
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(HTTPMiddleware(l))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	var last *httptest.ResponseRecorder
	for i := 0; i < 4; i++ {
		last = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		engine.ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "3", last.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
}

func TestHTTPMiddleware_KeysByIP(t *testing.T) {
	l, err := New("1-M")
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(HTTPMiddleware(l))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(addr string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		engine.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1:1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1:2"))
	// A different IP has its own budget.
	assert.Equal(t, http.StatusOK, send("203.0.113.2:1"))
}

func TestWSGate(t *testing.T) {
	l, err := New("2-M")
	require.NoError(t, err)
	gate := WSGate(l)

	ctx := func(addr string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/api/ws", nil)
		c.Request.RemoteAddr = addr
		return c
	}

	assert.True(t, gate(ctx("203.0.113.9:1")))
	assert.True(t, gate(ctx("203.0.113.9:2")))
	assert.False(t, gate(ctx("203.0.113.9:3")))
	assert.True(t, gate(ctx("203.0.113.10:1")))
}
