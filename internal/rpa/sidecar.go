package rpa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leaseline/leasing-ai-platform/pkg/logging"
)

// SidecarClient talks to the headless-browser sidecar service over HTTP. Each
// Acquire opens one browser context on the sidecar; the returned driver's
// verbs operate on that context.
type SidecarClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// SidecarOption is a functional option for configuring the SidecarClient.
type SidecarOption func(*SidecarClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) SidecarOption {
	return func(c *SidecarClient) {
		c.httpClient = client
	}
}

// WithSidecarLogger sets a custom logger.
func WithSidecarLogger(logger *logging.Logger) SidecarOption {
	return func(c *SidecarClient) {
		c.logger = logger
	}
}

// NewSidecarClient creates a browser sidecar client.
// baseURL is the sidecar service URL (e.g. "http://localhost:3000").
func NewSidecarClient(baseURL string, opts ...SidecarOption) *SidecarClient {
	c := &SidecarClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HealthResponse is the health check response from the sidecar.
type HealthResponse struct {
	Status       string `json:"status"` // ok, degraded, error
	Version      string `json:"version"`
	BrowserReady bool   `json:"browserReady"`
	Uptime       int    `json:"uptime"` // seconds
}

// Health checks the health of the browser sidecar.
func (c *SidecarClient) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("rpa: create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpa: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rpa: health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("rpa: decode health response: %w", err)
	}
	return &health, nil
}

type contextStartResponse struct {
	Success   bool   `json:"success"`
	ContextID string `json:"contextId"`
	Error     string `json:"error,omitempty"`
}

// Acquire opens a browser context for the platform account and returns a
// driver bound to it. Implements DriverFactory.
func (c *SidecarClient) Acquire(ctx context.Context, platform, accountID string) (Driver, error) {
	var out contextStartResponse
	err := c.post(ctx, "/api/v1/contexts", map[string]string{
		"platform":  platform,
		"accountId": accountID,
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Success || out.ContextID == "" {
		return nil, fmt.Errorf("rpa: sidecar refused context: %s", out.Error)
	}
	c.logger.Debug("browser context acquired", "platform", platform, "account_id", accountID, "context_id", out.ContextID)
	return &sidecarDriver{client: c, contextID: out.ContextID}, nil
}

func (c *SidecarClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("rpa: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpa: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpa: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rpa: sidecar returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rpa: decode response: %w", err)
	}
	return nil
}

// sidecarDriver implements Driver against one sidecar browser context.
type sidecarDriver struct {
	client    *SidecarClient
	contextID string
}

type actionResponse struct {
	Success bool                `json:"success"`
	Exists  bool                `json:"exists,omitempty"`
	Rows    []map[string]string `json:"rows,omitempty"`
	State   string              `json:"state,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (d *sidecarDriver) path(verb string) string {
	return "/api/v1/contexts/" + d.contextID + "/" + verb
}

func (d *sidecarDriver) do(ctx context.Context, verb string, payload map[string]any) (*actionResponse, error) {
	var out actionResponse
	if err := d.client.post(ctx, d.path(verb), payload, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("rpa: sidecar %s failed: %s", verb, out.Error)
	}
	return &out, nil
}

func (d *sidecarDriver) Navigate(ctx context.Context, url string) error {
	_, err := d.do(ctx, "navigate", map[string]any{"url": url})
	return err
}

func (d *sidecarDriver) Exists(ctx context.Context, selector string) (bool, error) {
	out, err := d.do(ctx, "exists", map[string]any{"selector": selector})
	if err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (d *sidecarDriver) ExtractRows(ctx context.Context, rowSelector string, fields map[string]string) ([]map[string]string, error) {
	out, err := d.do(ctx, "extract", map[string]any{
		"rowSelector": rowSelector,
		"fields":      fields,
	})
	if err != nil {
		return nil, err
	}
	return out.Rows, nil
}

func (d *sidecarDriver) Fill(ctx context.Context, selector, value string) error {
	_, err := d.do(ctx, "fill", map[string]any{"selector": selector, "value": value})
	return err
}

func (d *sidecarDriver) Click(ctx context.Context, selector string) error {
	_, err := d.do(ctx, "click", map[string]any{"selector": selector})
	return err
}

func (d *sidecarDriver) RestoreSession(ctx context.Context, snapshot string) error {
	_, err := d.do(ctx, "session/restore", map[string]any{"snapshot": snapshot})
	return err
}

func (d *sidecarDriver) SnapshotSession(ctx context.Context) (string, error) {
	out, err := d.do(ctx, "session/snapshot", map[string]any{})
	if err != nil {
		return "", err
	}
	return out.State, nil
}

func (d *sidecarDriver) Close(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		d.client.baseURL+"/api/v1/contexts/"+d.contextID, nil)
	if err != nil {
		return fmt.Errorf("rpa: create close request: %w", err)
	}
	resp, err := d.client.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpa: close request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("rpa: close failed with status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
