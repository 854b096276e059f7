package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/posse-io/posse/internal/record"
)

// Client talks to one deputy's HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration // bounds every call; a hung deputy cannot stall the caller forever
	TLS     *tls.Config   // for https deputies; nil means plain HTTP or system roots
	Logger  *slog.Logger
}

// DefaultTimeout bounds deputy calls when the config leaves Timeout zero.
const DefaultTimeout = 10 * time.Second

// New creates a deputy API client.
func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := &http.Client{Timeout: config.Timeout}
	if config.TLS != nil {
		hc.Transport = &http.Transport{TLSClientConfig: config.TLS}
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  hc,
	}
}

// BaseURL returns the deputy base URL this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// StatusError reports a non-success HTTP response; the deputy answered,
// just not with what we wanted.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Health probes the deputy's health endpoint.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/health", &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// AddProcess registers a process spec without starting it.
func (c *Client) AddProcess(ctx context.Context, t record.Transport) error {
	return c.postJSON(ctx, "/process/add", t, nil)
}

// StartProcess registers and starts a process (the deputy only registers
// when the spec's autostart flag is off).
func (c *Client) StartProcess(ctx context.Context, t record.Transport) error {
	return c.postJSON(ctx, "/process/start", t, nil)
}

// StopProcess stops the named process.
func (c *Client) StopProcess(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/process/stop/"+url.PathEscape(name), nil, nil)
}

// RestartProcess restarts the named process.
func (c *Client) RestartProcess(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/process/restart/"+url.PathEscape(name), nil, nil)
}

// UpdateProcess replaces the named process's spec; the deputy restarts it
// if it is live.
func (c *Client) UpdateProcess(ctx context.Context, name string, t record.Transport) error {
	return c.postJSON(ctx, "/process/update/"+url.PathEscape(name), t, nil)
}

// DeleteProcess removes the named process.
func (c *Client) DeleteProcess(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/process/delete/"+url.PathEscape(name), nil, nil)
}

// Process fetches a fresh snapshot of the named process.
func (c *Client) Process(ctx context.Context, name string) (record.Transport, error) {
	var t record.Transport
	if err := c.getJSON(ctx, "/process/"+url.PathEscape(name), &t); err != nil {
		return record.Transport{}, err
	}
	return t, nil
}

// Processes fetches snapshots of every process on the deputy.
func (c *Client) Processes(ctx context.Context) ([]record.Transport, error) {
	var ts []record.Transport
	if err := c.getJSON(ctx, "/processes", &ts); err != nil {
		return nil, err
	}
	return ts, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, data, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("deputy request failed", "method", method, "url", c.baseURL+path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return &StatusError{Code: resp.StatusCode, Detail: er.Detail}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
