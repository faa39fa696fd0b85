// Package remote implements sandbox.Provider against the hosted sandbox
// platform. Sandboxes are driven through two surfaces: the control plane
// (create/find/start/stop/delete) and a per-sandbox agent API reached
// through the platform's port-routing domain (exec and file operations).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/vesselworks/drydock/internal/sandbox"
)

const (
	// agentPort is the port the in-sandbox agent listens on.
	agentPort = 49160

	// httpTimeout is the default timeout for provider API calls.
	httpTimeout = 60 * time.Second

	// defaultExecTimeout bounds command execution when the caller does not.
	defaultExecTimeout = 2 * time.Minute
)

// Config holds connection settings for the hosted platform.
type Config struct {
	// APIURL is the control plane base URL, e.g. "https://api.sandbox.dev".
	APIURL string
	// APIKey authenticates control plane and agent calls.
	APIKey string
	// Domain is the port-routing domain, e.g. "sandbox.dev". Preview and
	// agent URLs take the form https://{port}-{id}.{domain}.
	Domain string
}

// Client is an HTTP sandbox.Provider for the hosted platform.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a remote provider client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIURL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("remote provider requires APIURL and APIKey")
	}
	if cfg.Domain == "" {
		cfg.Domain = "sandbox.dev"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: httpTimeout},
		logger: logger,
	}, nil
}

type sandboxInfo struct {
	SandboxID  string            `json:"sandboxId"`
	TemplateID string            `json:"templateId"`
	State      string            `json:"state"` // "running" or "stopped"
	CreatedAt  time.Time         `json:"createdAt"`
	EndAt      *time.Time        `json:"endAt,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (c *Client) handleFromInfo(info *sandboxInfo) *sandbox.Handle {
	status := sandbox.StatusUnknown
	switch info.State {
	case "running":
		status = sandbox.StatusRunning
	case "stopped", "paused":
		status = sandbox.StatusStopped
	}
	return &sandbox.Handle{
		ID:         info.SandboxID,
		TemplateID: info.TemplateID,
		Status:     status,
		Workdir:    sandbox.DefaultWorkdir,
		CreatedAt:  info.CreatedAt,
		ExpiresAt:  info.EndAt,
		Metadata:   info.Metadata,
	}
}

// Create provisions a new sandbox from a template.
func (c *Client) Create(ctx context.Context, templateRef string) (*sandbox.Handle, error) {
	req := map[string]any{"templateId": templateRef}
	var info sandboxInfo
	if err := c.controlCall(ctx, http.MethodPost, "/v1/sandboxes", req, &info); err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}
	c.logger.Info("sandbox created",
		zap.String("sandbox_id", info.SandboxID),
		zap.String("template", templateRef))
	return c.handleFromInfo(&info), nil
}

// FindByID looks up a sandbox. A control plane 404 maps to
// sandbox.ErrNotFound; every other failure surfaces as-is so callers can
// distinguish a genuinely missing sandbox from a transient error.
func (c *Client) FindByID(ctx context.Context, id string) (*sandbox.Handle, error) {
	var info sandboxInfo
	err := c.controlCall(ctx, http.MethodGet, "/v1/sandboxes/"+url.PathEscape(id), nil, &info)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, sandbox.ErrNotFound
		}
		return nil, fmt.Errorf("find sandbox %s: %w", id, err)
	}
	return c.handleFromInfo(&info), nil
}

// Start starts a stopped sandbox.
func (c *Client) Start(ctx context.Context, id string) error {
	err := c.controlCall(ctx, http.MethodPost, "/v1/sandboxes/"+url.PathEscape(id)+"/start", nil, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return sandbox.ErrNotFound
		}
		return fmt.Errorf("start sandbox %s: %w", id, err)
	}
	c.logger.Info("sandbox started", zap.String("sandbox_id", id))
	return nil
}

// Stop stops a running sandbox without destroying it.
func (c *Client) Stop(ctx context.Context, id string) error {
	err := c.controlCall(ctx, http.MethodPost, "/v1/sandboxes/"+url.PathEscape(id)+"/stop", nil, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return sandbox.ErrNotFound
		}
		return fmt.Errorf("stop sandbox %s: %w", id, err)
	}
	return nil
}

// Delete permanently removes a sandbox. Deleting an already-gone sandbox
// succeeds.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := c.controlCall(ctx, http.MethodDelete, "/v1/sandboxes/"+url.PathEscape(id), nil, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			c.logger.Debug("sandbox already gone", zap.String("sandbox_id", id))
			return nil
		}
		return fmt.Errorf("delete sandbox %s: %w", id, err)
	}
	c.logger.Info("sandbox deleted", zap.String("sandbox_id", id))
	return nil
}

// Exec runs a command through the in-sandbox agent.
func (c *Client) Exec(ctx context.Context, h *sandbox.Handle, cmd string, opts sandbox.ExecOptions) (*sandbox.ExecResult, error) {
	workdir := opts.Workdir
	if workdir == "" {
		workdir = h.Workdir
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	req := map[string]any{
		"cmd":        "/bin/bash",
		"args":       []string{"-lc", cmd},
		"workdir":    workdir,
		"env":        opts.Env,
		"timeoutSec": int(timeout.Seconds()),
		"background": opts.Background,
	}
	if opts.Background && opts.LogFile != "" {
		req["logFile"] = opts.LogFile
	}

	var result struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exitCode"`
	}
	if err := c.agentCall(ctx, h, http.MethodPost, "/commands/run", req, &result); err != nil {
		return nil, fmt.Errorf("exec in sandbox %s: %w", h.ID, err)
	}
	return &sandbox.ExecResult{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	}, nil
}

// ReadFile reads a file through the agent /files endpoint.
func (c *Client) ReadFile(ctx context.Context, h *sandbox.Handle, path string) ([]byte, error) {
	u := c.agentBaseURL(h) + "/files?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &apiError{status: resp.StatusCode, body: string(body)}
	}
	return io.ReadAll(resp.Body)
}

// WriteFile uploads one file as multipart form data.
func (c *Client) WriteFile(ctx context.Context, h *sandbox.Handle, path string, data []byte) error {
	return c.uploadMultipart(ctx, h, []sandbox.FileWrite{{Path: path, Data: data}})
}

// WriteFiles uploads a batch of files in a single multipart request.
func (c *Client) WriteFiles(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error {
	if len(entries) == 0 {
		return nil
	}
	return c.uploadMultipart(ctx, h, entries)
}

func (c *Client) uploadMultipart(ctx context.Context, h *sandbox.Handle, entries []sandbox.FileWrite) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, e := range entries {
		part, err := w.CreateFormFile("file", e.Path)
		if err != nil {
			return fmt.Errorf("create form file: %w", err)
		}
		if _, err := part.Write(e.Data); err != nil {
			return fmt.Errorf("write form file: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	u := c.agentBaseURL(h) + "/files"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-API-Key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return &apiError{status: resp.StatusCode, body: string(body)}
	}
	return nil
}

// ListFiles returns a recursive listing through the agent.
func (c *Client) ListFiles(ctx context.Context, h *sandbox.Handle, dir string) ([]sandbox.FileEntry, error) {
	var result struct {
		Entries []struct {
			Path  string `json:"path"`
			Size  int64  `json:"size"`
			IsDir bool   `json:"isDir"`
		} `json:"entries"`
	}
	path := "/files/list?dir=" + url.QueryEscape(dir)
	if err := c.agentCall(ctx, h, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("list files in sandbox %s: %w", h.ID, err)
	}

	entries := make([]sandbox.FileEntry, len(result.Entries))
	for i, e := range result.Entries {
		entries[i] = sandbox.FileEntry{Path: e.Path, Size: e.Size, IsDir: e.IsDir}
	}
	return entries, nil
}

// PreviewURL asks the control plane for the public URL of an exposed port,
// falling back to the deterministic routing pattern when the endpoint is
// unavailable.
func (c *Client) PreviewURL(ctx context.Context, h *sandbox.Handle, port int) (string, error) {
	var result struct {
		URL string `json:"url"`
	}
	path := fmt.Sprintf("/v1/sandboxes/%s/preview?port=%d", url.PathEscape(h.ID), port)
	if err := c.controlCall(ctx, http.MethodGet, path, nil, &result); err == nil && result.URL != "" {
		return result.URL, nil
	}
	return fmt.Sprintf("https://%d-%s.%s", port, h.ID, c.cfg.Domain), nil
}

// --- HTTP plumbing ---

type apiError struct {
	status int
	body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("provider API error (status %d): %s", e.status, e.body)
}

func isStatus(err error, status int) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.status == status
}

func (c *Client) agentBaseURL(h *sandbox.Handle) string {
	return fmt.Sprintf("https://%d-%s.%s", agentPort, h.ID, c.cfg.Domain)
}

func (c *Client) controlCall(ctx context.Context, method, path string, body, result any) error {
	return c.doJSON(ctx, method, c.cfg.APIURL+path, body, result)
}

func (c *Client) agentCall(ctx context.Context, h *sandbox.Handle, method, path string, body, result any) error {
	return c.doJSON(ctx, method, c.agentBaseURL(h)+path, body, result)
}

func (c *Client) doJSON(ctx context.Context, method, u string, body, result any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{status: resp.StatusCode, body: string(respBody)}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
