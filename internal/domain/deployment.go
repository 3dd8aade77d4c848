package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a deployment.
type Status string

const (
	StatusInit        Status = "INIT"
	StatusForking     Status = "FORKING"
	StatusCloning     Status = "CLONING"
	StatusConfiguring Status = "CONFIGURING"
	StatusBuilding    Status = "BUILDING"
	StatusDeploying   Status = "DEPLOYING"
	StatusSuccess     Status = "SUCCESS"
	StatusFailed      Status = "FAILED"
)

var statusOrder = []Status{
	StatusInit,
	StatusForking,
	StatusCloning,
	StatusConfiguring,
	StatusBuilding,
	StatusDeploying,
	StatusSuccess,
}

// Rank returns the position of s in the forward progression, or -1 for
// FAILED and unknown values.
func (s Status) Rank() int {
	for i, candidate := range statusOrder {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusFailed || s.Rank() >= 0
}

// Deployment is the persisted record of one deployment attempt.
type Deployment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	TemplateID  string    `json:"templateId"`
	RepoName    string    `json:"repoName"`
	RepoURL     string    `json:"repoUrl,omitempty"`
	Status      Status    `json:"status"`
	Logs        []string  `json:"logs"`
	DeployedURL string    `json:"deployedUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewDeployment returns a record in INIT.
func NewDeployment(id, userID, username, templateID, repoName string, now time.Time) *Deployment {
	now = now.UTC()
	return &Deployment{
		ID:         id,
		UserID:     userID,
		Username:   username,
		TemplateID: templateID,
		RepoName:   repoName,
		Status:     StatusInit,
		Logs:       []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Advance moves the record to the next pipeline state. Only the immediate
// successor of the current state is accepted, and SUCCESS must go through
// Succeed.
func (d *Deployment) Advance(next Status, now time.Time) error {
	if d.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, d.Status)
	}
	if next == StatusSuccess || next == StatusFailed {
		return fmt.Errorf("%w: use Succeed or Fail for %s", ErrInvalidTransition, next)
	}
	if next.Rank() != d.Status.Rank()+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, next)
	}
	d.Status = next
	d.UpdatedAt = now.UTC()
	return nil
}

// Succeed completes the deployment. The deployed URL is only ever set here.
func (d *Deployment) Succeed(url string, now time.Time) error {
	if d.Status != StatusDeploying {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, StatusSuccess)
	}
	d.Status = StatusSuccess
	d.DeployedURL = url
	d.UpdatedAt = now.UTC()
	return nil
}

// Fail moves any non-terminal record to FAILED and records msg.
func (d *Deployment) Fail(msg string, now time.Time) error {
	if d.Status.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, d.Status)
	}
	d.Status = StatusFailed
	if msg != "" {
		d.Logs = append(d.Logs, msg)
	}
	d.UpdatedAt = now.UTC()
	return nil
}

// AppendLog adds a progress line. Logs are never rewritten.
func (d *Deployment) AppendLog(line string, now time.Time) {
	d.Logs = append(d.Logs, line)
	d.UpdatedAt = now.UTC()
}

// Clone returns a deep copy safe to hand to observers.
func (d *Deployment) Clone() *Deployment {
	if d == nil {
		return nil
	}
	out := *d
	out.Logs = append([]string(nil), d.Logs...)
	return &out
}
