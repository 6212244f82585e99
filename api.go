package astrobox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	apiKeyHeader      = "X-Api-Key"
	apiRequestTimeout = 10 * time.Second
	defaultUserAgent  = "astrobox-go/0.1"
	wsTokenPath       = "/wsToken"
	connectionPath    = "/api/connection"
	jobPath           = "/api/job"
	printheadPath     = "/api/printer/printhead"
	toolPath          = "/api/printer/tool"
	bedPath           = "/api/printer/bed"
)

// TokenSource fetches one-time push channel tokens.
type TokenSource interface {
	WSToken(ctx context.Context) (string, error)
}

// Ensure APIClient implements TokenSource at compile time.
var _ TokenSource = (*APIClient)(nil)

// APIClient talks to the appliance's REST API. Every request carries the
// current API key, which the push channel handshake rotates.
type APIClient struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string

	mu     sync.RWMutex
	apiKey string
}

// NewAPIClient builds a client for the appliance at baseURL.
func NewAPIClient(baseURL, apiKey string, httpClient *http.Client) (*APIClient, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base URL %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	u.Fragment = ""

	if httpClient == nil {
		httpClient = &http.Client{Timeout: apiRequestTimeout}
	}
	return &APIClient{
		baseURL:   u,
		http:      httpClient,
		userAgent: defaultUserAgent,
		apiKey:    apiKey,
	}, nil
}

// SetAPIKey replaces the key used for subsequent requests.
func (c *APIClient) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

// APIKey returns the key currently in use.
func (c *APIClient) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// WSToken fetches a fresh one-time token for opening the push channel.
func (c *APIClient) WSToken(ctx context.Context) (string, error) {
	var payload struct {
		Token string `json:"ws_token"`
	}
	if err := c.do(ctx, http.MethodGet, wsTokenPath, nil, &payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", errors.New("wsToken response has no ws_token")
	}
	return payload.Token, nil
}

// ConnectPrinter asks the appliance to open the serial link to the printer.
func (c *APIClient) ConnectPrinter(ctx context.Context) error {
	return c.command(ctx, connectionPath, map[string]any{"command": "connect"})
}

// DisconnectPrinter closes the serial link to the printer.
func (c *APIClient) DisconnectPrinter(ctx context.Context) error {
	return c.command(ctx, connectionPath, map[string]any{"command": "disconnect"})
}

// StartJob starts printing the selected file.
func (c *APIClient) StartJob(ctx context.Context) error {
	return c.command(ctx, jobPath, map[string]any{"command": "start"})
}

// PauseJob toggles pause on the active job.
func (c *APIClient) PauseJob(ctx context.Context) error {
	return c.command(ctx, jobPath, map[string]any{"command": "pause"})
}

// CancelJob aborts the active job.
func (c *APIClient) CancelJob(ctx context.Context) error {
	return c.command(ctx, jobPath, map[string]any{"command": "cancel"})
}

// Jog moves the print head by the given offsets in mm.
func (c *APIClient) Jog(ctx context.Context, x, y, z float64) error {
	return c.command(ctx, printheadPath, map[string]any{"command": "jog", "x": x, "y": y, "z": z})
}

// Home homes the given axes ("x", "y", "z").
func (c *APIClient) Home(ctx context.Context, axes ...string) error {
	if len(axes) == 0 {
		return errors.New("home: no axes given")
	}
	return c.command(ctx, printheadPath, map[string]any{"command": "home", "axes": axes})
}

// SetToolTarget sets an extruder's target temperature in °C.
func (c *APIClient) SetToolTarget(ctx context.Context, tool int, target float64) error {
	if tool < 0 {
		return fmt.Errorf("tool index %d is negative", tool)
	}
	return c.command(ctx, toolPath, map[string]any{
		"command": "target",
		"targets": map[string]float64{fmt.Sprintf("tool%d", tool): target},
	})
}

// SetBedTarget sets the bed's target temperature in °C.
func (c *APIClient) SetBedTarget(ctx context.Context, target float64) error {
	return c.command(ctx, bedPath, map[string]any{"command": "target", "target": target})
}

func (c *APIClient) command(ctx context.Context, path string, body map[string]any) error {
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, dest any) error {
	reqURL := *c.baseURL
	reqURL.Path = c.baseURL.Path + path

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, reqURL.String(), reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, reqURL.String(), nil)
	}
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := c.APIKey(); key != "" {
		req.Header.Set(apiKeyHeader, key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode}
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
