package client

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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client provides typed access to the templatehub API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:5000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path, token string, v any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.send(c.httpClient, req, token, v)
}

func (c *Client) send(hc *http.Client, req *http.Request, token string, v any) error {
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Message)
}

// Template is a catalog entry.
type Template struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RepoURL   string `json:"repoUrl"`
	TechStack string `json:"techStack"`
}

// ListTemplates returns the template catalog.
func (c *Client) ListTemplates(ctx context.Context) ([]Template, error) {
	var templates []Template
	if err := c.do(ctx, http.MethodGet, "/templates", "", &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// Deployment mirrors the persisted deployment record.
type Deployment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	TemplateID  string    `json:"templateId"`
	RepoName    string    `json:"repoName"`
	RepoURL     string    `json:"repoUrl"`
	Status      string    `json:"status"`
	Logs        []string  `json:"logs"`
	DeployedURL string    `json:"deployedUrl"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Terminal reports whether the deployment has finished.
func (d Deployment) Terminal() bool {
	return d.Status == "SUCCESS" || d.Status == "FAILED"
}

// ListDeployments returns the caller's deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, token string, limit int) ([]Deployment, error) {
	path := "/deployments"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, path, token, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// GetDeployment fetches one of the caller's deployments.
func (c *Client) GetDeployment(ctx context.Context, token, id string) (Deployment, error) {
	var d Deployment
	if err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(id), token, &d); err != nil {
		return Deployment{}, err
	}
	return d, nil
}

// DeployInput describes a deployment request. Image fields are local file
// paths.
type DeployInput struct {
	TemplateID    string
	RepoName      string
	ConfigData    json.RawMessage
	UserImage     string
	ProjectImages []string
}

// DeployResult is returned once the site is published.
type DeployResult struct {
	Success      bool   `json:"success"`
	DeployedURL  string `json:"deployedUrl"`
	RepoURL      string `json:"repoUrl"`
	DeploymentID string `json:"deploymentId"`
}

// Deploy uploads the form and waits for the pipeline to finish. Only ctx
// bounds the call since deployments outlast the default request timeout.
func (c *Client) Deploy(ctx context.Context, token string, in DeployInput) (DeployResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"templateId": in.TemplateID,
		"repoName":   in.RepoName,
		"configData": string(in.ConfigData),
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return DeployResult{}, fmt.Errorf("encode %s: %w", k, err)
		}
	}
	if in.UserImage != "" {
		if err := attachFile(mw, "userImage", in.UserImage); err != nil {
			return DeployResult{}, err
		}
	}
	for _, p := range in.ProjectImages {
		if err := attachFile(mw, "projectImages", p); err != nil {
			return DeployResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return DeployResult{}, fmt.Errorf("encode form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deploy", &buf)
	if err != nil {
		return DeployResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	long := *c.httpClient
	long.Timeout = 0
	var res DeployResult
	if err := c.send(&long, req, token, &res); err != nil {
		return DeployResult{}, err
	}
	return res, nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	w, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("attach %s: %w", path, err)
	}
	return nil
}

// Watch streams record updates for a deployment until it finishes or ctx is
// cancelled. fn receives every update, starting with the current record.
func (c *Client) Watch(ctx context.Context, token, id string, fn func(Deployment)) error {
	u, err := url.Parse(c.baseURL + "/deployments/" + url.PathEscape(id) + "/stream")
	if err != nil {
		return fmt.Errorf("build stream url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			defer resp.Body.Close()
			return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
		}
		return fmt.Errorf("open stream: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		var d Deployment
		if err := json.Unmarshal(payload, &d); err != nil {
			return fmt.Errorf("decode update: %w", err)
		}
		fn(d)
		if d.Terminal() {
			return nil
		}
	}
}
