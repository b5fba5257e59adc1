package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3600, cfg.MaxCacheAgeSecs)
	assert.Equal(t, time.Hour, cfg.MaxCacheAge())
	assert.Equal(t, 64, cfg.SendQueueDepth)
	assert.True(t, cfg.SecureCookies())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INSTANT_HTTP_MAXCACHEAGE", "30")
	t.Setenv("INSTANT_COOKIES_INSECURE", "yes")
	t.Setenv("INSTANT_SEND_QUEUE", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.MaxCacheAge())
	assert.False(t, cfg.SecureCookies())
	assert.Equal(t, 8, cfg.SendQueueDepth)
}

func TestLoad_InsecureRequiresYes(t *testing.T) {
	t.Setenv("INSTANT_COOKIES_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	// Anything other than "yes" keeps cookies secure.
	assert.True(t, cfg.SecureCookies())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Setenv("INSTANT_SEND_QUEUE", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestAddr(t *testing.T) {
	cfg := &Config{Host: "*", Port: 8080}
	assert.Equal(t, ":8080", cfg.Addr())

	cfg.Host = "127.0.0.1"
	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
}
