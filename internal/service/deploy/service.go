package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/internal/framework"
	"github.com/splax/templatehub/internal/hosting"
	"github.com/splax/templatehub/internal/lock"
	"github.com/splax/templatehub/internal/publish"
	"github.com/splax/templatehub/internal/repository"
	"github.com/splax/templatehub/internal/workspace"
)

// Repository names accepted by the hosting service.
var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// Request contains everything needed to deploy one template for one user.
type Request struct {
	Identity domain.Identity
	Template domain.Template
	RepoName string
	Payload  domain.Payload
	Assets   []domain.Asset
}

// Result summarizes a successful deployment.
type Result struct {
	DeploymentID string `json:"deploymentId"`
	DeployedURL  string `json:"deployedUrl"`
	RepoURL      string `json:"repoUrl"`
}

// HostingSession is the subset of hosting operations a deployment performs
// with the user's token.
type HostingSession interface {
	GetRepo(ctx context.Context, owner, repo string) (hosting.Lookup, error)
	EnsureFork(ctx context.Context, owner, repo, targetOwner string) error
	RenameRepo(ctx context.Context, owner, repo, newName string) error
	EnableHostingSite(ctx context.Context, owner, repo, branch, path string) error
}

// URLs derives the public locations of a user repository.
type URLs interface {
	RepoURL(owner, repo string) string
	CloneURL(owner, repo string) string
	PagesURL(owner, repo string) string
}

// VCS clones repositories and points their remote at authenticated URLs.
type VCS interface {
	Clone(ctx context.Context, remoteURL, dest string) error
	RewriteRemoteCredentials(ctx context.Context, dir, token string) error
}

// Workspaces hands out per-target working directories.
type Workspaces interface {
	Acquire(username, repoName string) (*workspace.Lease, error)
}

// Builder installs dependencies and produces the static output.
type Builder interface {
	Install(ctx context.Context, root string, profile framework.Profile) error
	Build(ctx context.Context, root string, profile framework.Profile) error
	Output(root string, profile framework.Profile) (string, error)
}

// Publisher snapshots build output and pushes it to the hosting branch.
type Publisher interface {
	Snapshot(outputDir string, extras ...publish.Extra) (publish.Snapshot, error)
	Publish(ctx context.Context, repoDir string, snap publish.Snapshot, target publish.Target) (string, error)
}

// TokenDecrypter turns a stored token handle into a usable access token.
type TokenDecrypter interface {
	Decrypt(handle string) (string, error)
}

// Observer receives the record after every persisted change. Errors are
// logged and never fail the deployment.
type Observer interface {
	Notify(ctx context.Context, d *domain.Deployment) error
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Store      repository.DeploymentRepository
	Sessions   func(token string) HostingSession
	URLs       URLs
	VCS        VCS
	Workspaces Workspaces
	Builder    Builder
	Publisher  Publisher
	Tokens     TokenDecrypter
	Locker     lock.Locker
	Observers  []Observer
}

// Options tune a Service.
type Options struct {
	PagesBranch string
	PagesPath   string
	Logger      *slog.Logger
	Registerer  prometheus.Registerer
	Now         func() time.Time
	NewID       func() string
}

// Service runs deployments end to end.
type Service struct {
	deps    Dependencies
	branch  string
	path    string
	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time
	newID   func() string
}

// New validates dependencies and returns a Service.
func New(deps Dependencies, opts Options) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("deployment store required")
	case deps.Sessions == nil || deps.URLs == nil:
		return nil, errors.New("hosting client required")
	case deps.VCS == nil:
		return nil, errors.New("vcs driver required")
	case deps.Workspaces == nil:
		return nil, errors.New("workspace manager required")
	case deps.Builder == nil:
		return nil, errors.New("build runner required")
	case deps.Publisher == nil:
		return nil, errors.New("publisher required")
	case deps.Tokens == nil:
		return nil, errors.New("token decrypter required")
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewMemory()
	}
	if opts.PagesBranch == "" {
		opts.PagesBranch = "gh-pages"
	}
	if opts.PagesPath == "" {
		opts.PagesPath = "/"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Service{
		deps:    deps,
		branch:  opts.PagesBranch,
		path:    opts.PagesPath,
		logger:  opts.Logger,
		metrics: newMetrics(opts.Registerer),
		now:     opts.Now,
		newID:   opts.NewID,
	}, nil
}

// Run executes the full pipeline synchronously. Requests for a target that
// is already being deployed fail with domain.ErrConflict before any record
// is created. Once a record exists every failure leaves it FAILED and is
// returned as a *StepError.
func (s *Service) Run(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	release, err := s.deps.Locker.Acquire(ctx, lock.TargetKey(req.Identity.Username, req.RepoName))
	if err != nil {
		return Result{}, err
	}
	defer release()

	d := domain.NewDeployment(s.newID(), req.Identity.UserID, req.Identity.Username, req.Template.ID, req.RepoName, s.now())
	d.AppendLog(fmt.Sprintf("Deployment of template %s to %s/%s requested", req.Template.ID, req.Identity.Username, req.RepoName), s.now())
	if err := s.deps.Store.CreateDeployment(ctx, d); err != nil {
		return Result{}, fmt.Errorf("create deployment record: %w", err)
	}
	s.publish(ctx, d)

	r := &run{
		svc:    s,
		req:    req,
		d:      d,
		logger: s.logger.With("deployment_id", d.ID, "user", req.Identity.Username, "repo", req.RepoName),
		start:  s.now(),
	}
	r.logger.Info("deployment started", "template", req.Template.ID)

	defer r.releaseWorkspace(ctx)

	if err := r.execute(ctx); err != nil {
		return Result{DeploymentID: d.ID, RepoURL: d.RepoURL}, err
	}
	return Result{DeploymentID: d.ID, DeployedURL: d.DeployedURL, RepoURL: d.RepoURL}, nil
}

// Get returns a deployment record.
func (s *Service) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	return s.deps.Store.GetDeploymentByID(ctx, id)
}

// ListByUser returns a user's deployments, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error) {
	return s.deps.Store.ListDeploymentsByUser(ctx, userID, limit)
}

func validate(req Request) error {
	if strings.TrimSpace(req.Identity.UserID) == "" || strings.TrimSpace(req.Identity.Username) == "" {
		return fmt.Errorf("%w: identity required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(req.Identity.TokenHandle) == "" {
		return fmt.Errorf("%w: access token required", domain.ErrInvalidArgument)
	}
	if !repoNamePattern.MatchString(req.RepoName) || req.RepoName == "." || req.RepoName == ".." {
		return fmt.Errorf("%w: invalid repository name %q", domain.ErrInvalidArgument, req.RepoName)
	}
	if _, _, err := req.Template.SourceRepo(); err != nil {
		return err
	}
	return nil
}

// save persists d and fans it out to observers.
func (s *Service) save(ctx context.Context, d *domain.Deployment) error {
	if err := s.deps.Store.SaveDeployment(ctx, d); err != nil {
		return fmt.Errorf("persist deployment: %w", err)
	}
	s.publish(ctx, d)
	return nil
}

func (s *Service) publish(ctx context.Context, d *domain.Deployment) {
	for _, obs := range s.deps.Observers {
		if err := obs.Notify(ctx, d.Clone()); err != nil {
			s.logger.Warn("deployment observer failed", "deployment_id", d.ID, "status", d.Status, "error", err)
		}
	}
}
