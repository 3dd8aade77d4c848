// Package notify delivers deployment status changes to an external callback.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/splax/templatehub/internal/domain"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4096
)

var (
	// ErrUnauthorized indicates the callback rejected our token.
	ErrUnauthorized = errors.New("deployment callback unauthorized")
	// ErrInvalidArgument indicates the callback rejected the payload.
	ErrInvalidArgument = errors.New("deployment callback invalid argument")
	// ErrNotFound indicates the callback does not know the deployment.
	ErrNotFound = errors.New("deployment callback not found")
)

// Callback posts deployment status updates to a configured URL.
type Callback struct {
	url    string
	token  string
	client *http.Client
	now    func() time.Time
}

// Event is the JSON body sent on each status change.
type Event struct {
	DeploymentID string        `json:"deployment_id"`
	UserID       string        `json:"user_id"`
	TemplateID   string        `json:"template_id"`
	RepoName     string        `json:"repo_name"`
	Status       domain.Status `json:"status"`
	Message      string        `json:"message,omitempty"`
	RepoURL      string        `json:"repo_url,omitempty"`
	DeployedURL  string        `json:"deployed_url,omitempty"`
	OccurredAt   string        `json:"occurred_at"`
}

// NewCallback creates a notifier for the given endpoint.
func NewCallback(url, token string, client *http.Client) (*Callback, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("deployment callback url required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Callback{
		url:    trimmed,
		token:  strings.TrimSpace(token),
		client: client,
		now:    time.Now,
	}, nil
}

// EventFor builds the callback body for a record. The newest log line is
// carried as the message.
func (c *Callback) EventFor(d *domain.Deployment) Event {
	ev := Event{
		DeploymentID: d.ID,
		UserID:       d.UserID,
		TemplateID:   d.TemplateID,
		RepoName:     d.RepoName,
		Status:       d.Status,
		RepoURL:      d.RepoURL,
		DeployedURL:  d.DeployedURL,
	}
	if n := len(d.Logs); n > 0 {
		ev.Message = d.Logs[n-1]
	}
	occurred := d.UpdatedAt
	if occurred.IsZero() {
		occurred = c.now()
	}
	ev.OccurredAt = occurred.UTC().Format(time.RFC3339Nano)
	return ev
}

// Notify sends the current state of d.
func (c *Callback) Notify(ctx context.Context, d *domain.Deployment) error {
	if c == nil {
		return errors.New("deployment callback not initialised")
	}
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return errors.New("deployment callback requires a deployment id")
	}
	body, err := json.Marshal(c.EventFor(d))
	if err != nil {
		return fmt.Errorf("marshal callback event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Callback-Token", c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, summary)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrInvalidArgument, summary)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, summary)
	default:
		return fmt.Errorf("deployment callback failed: %s", summary)
	}
}
