// Package config loads and validates the server's environment configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the validated environment configuration plus the settings the
// command line fills in before the server starts.
type Config struct {
	// Environment variables.
	CookieKeyFile   string `env:"INSTANT_COOKIES_KEYFILE"`
	CookiesInsecure string `env:"INSTANT_COOKIES_INSECURE"`
	MaxCacheAgeSecs int    `env:"INSTANT_HTTP_MAXCACHEAGE" envDefault:"3600"`

	// Rate limits in ulule/limiter "count-period" notation (M = minute).
	RateLimitWsIP string `env:"INSTANT_RATE_WS_IP" envDefault:"120-M"`
	RateLimitHTTP string `env:"INSTANT_RATE_HTTP" envDefault:"2000-M"`

	// Per-client send queue depth; overflowing it closes the connection.
	SendQueueDepth int `env:"INSTANT_SEND_QUEUE" envDefault:"64"`

	// Per-client inbound frame budget (frames per second, with equal burst).
	InboundFrameRate float64 `env:"INSTANT_INBOUND_RATE" envDefault:"50"`

	// Filled in by the command line, not the environment.
	Host    string
	Port    int
	Webroot string
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if cfg.MaxCacheAgeSecs < 0 {
		return nil, fmt.Errorf("INSTANT_HTTP_MAXCACHEAGE must be >= 0 (got %d)", cfg.MaxCacheAgeSecs)
	}
	if cfg.SendQueueDepth < 1 {
		return nil, fmt.Errorf("INSTANT_SEND_QUEUE must be >= 1 (got %d)", cfg.SendQueueDepth)
	}
	if cfg.InboundFrameRate <= 0 {
		return nil, fmt.Errorf("INSTANT_INBOUND_RATE must be > 0 (got %g)", cfg.InboundFrameRate)
	}

	return cfg, nil
}

// SecureCookies reports whether the identity cookie should carry the Secure
// attribute. Only the literal value "yes" disables it.
func (c *Config) SecureCookies() bool {
	return !strings.EqualFold(c.CookiesInsecure, "yes")
}

// MaxCacheAge returns the producer cache TTL.
func (c *Config) MaxCacheAge() time.Duration {
	return time.Duration(c.MaxCacheAgeSecs) * time.Second
}

// Addr returns the listen address. A host of "*" means all interfaces.
func (c *Config) Addr() string {
	host := c.Host
	if host == "*" {
		host = ""
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}
