package astrobox

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	defaultSockJSPath       = "/sockjs"
	defaultHandshakeTimeout = 10 * time.Second
)

// Config holds the configuration for an AstroBox client.
type Config struct {
	// BaseURL is the HTTP address of the appliance, e.g. http://astrobox.local.
	// Fallback: ASTROBOX_URL environment variable.
	BaseURL string

	// APIKey authenticates REST calls until the first handshake rotates it.
	// Fallback: ASTROBOX_API_KEY environment variable.
	APIKey string

	// WSToken is the one-time channel token rendered into the page the
	// client was bootstrapped from. If empty, one is fetched on Connect.
	// Fallback: ASTROBOX_WS_TOKEN environment variable.
	WSToken string

	// SockJSPath is the push channel mount point. Defaults to /sockjs.
	SockJSPath string

	// HandshakeTimeout bounds the wait for the connected message after the
	// socket opens. Defaults to 10s.
	HandshakeTimeout time.Duration

	// Backoff overrides DefaultBackoffTable.
	Backoff []time.Duration
}

// resolveConfig fills empty fields from environment variables and defaults,
// and validates required fields.
func resolveConfig(cfg Config) (Config, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("ASTROBOX_URL")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ASTROBOX_API_KEY")
	}
	if cfg.WSToken == "" {
		cfg.WSToken = os.Getenv("ASTROBOX_WS_TOKEN")
	}
	if cfg.SockJSPath == "" {
		cfg.SockJSPath = defaultSockJSPath
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	if cfg.BaseURL == "" {
		return cfg, fmt.Errorf("BaseURL is required (set in Config or ASTROBOX_URL env)")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return cfg, fmt.Errorf("parse BaseURL %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return cfg, fmt.Errorf("BaseURL %q must use http or https", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.SockJSPath = "/" + strings.Trim(cfg.SockJSPath, "/")

	if len(cfg.Backoff) == 0 {
		cfg.Backoff = DefaultBackoffTable
	}
	for i, d := range cfg.Backoff {
		if d < 0 {
			return cfg, fmt.Errorf("Backoff[%d] is negative", i)
		}
		if i > 0 && d < cfg.Backoff[i-1] {
			return cfg, fmt.Errorf("Backoff must be ascending (entry %d is %v after %v)", i, d, cfg.Backoff[i-1])
		}
	}

	return cfg, nil
}
