package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/internal/framework"
	"github.com/splax/templatehub/internal/process"
	"github.com/splax/templatehub/internal/publish"
	"github.com/splax/templatehub/internal/workspace"
)

// Output lines kept in the record when a command fails.
const failureTailLines = 20

// run carries the state of one deployment through the pipeline.
type run struct {
	svc    *Service
	req    Request
	d      *domain.Deployment
	logger *slog.Logger
	start  time.Time

	token   string
	session HostingSession
	lease   *workspace.Lease
	profile framework.Profile
	merged  framework.Merged
	output  string
	url     string
}

type step struct {
	status  domain.Status
	message string
	fn      func(ctx context.Context) error
}

func (r *run) execute(ctx context.Context) error {
	token, err := r.svc.deps.Tokens.Decrypt(r.req.Identity.TokenHandle)
	if err != nil {
		return r.fail(ctx, domain.StatusInit, fmt.Errorf("decrypt access token: %w", err))
	}
	r.token = token
	r.session = r.svc.deps.Sessions(token)

	steps := []step{
		{domain.StatusForking, "Forking template repository", r.fork},
		{domain.StatusCloning, "Cloning repository", r.clone},
		{domain.StatusConfiguring, "Configuring project", r.configure},
		{domain.StatusBuilding, "Building project", r.build},
		{domain.StatusDeploying, "Publishing site", r.deploy},
	}
	for _, st := range steps {
		if err := r.transition(ctx, st.status, st.message); err != nil {
			return r.fail(ctx, st.status, err)
		}
		began := r.svc.now()
		err := st.fn(ctx)
		r.svc.metrics.observeStage(st.status, err, r.svc.now().Sub(began))
		if err != nil {
			return r.fail(ctx, st.status, err)
		}
	}

	url := r.url
	now := r.svc.now()
	if err := r.d.Succeed(url, now); err != nil {
		return r.fail(ctx, domain.StatusDeploying, err)
	}
	r.d.AppendLog("Deployment successful: "+url, now)
	if err := r.svc.save(ctx, r.d); err != nil {
		// The site is live; only the record is stale.
		r.logger.Error("persist successful deployment failed", "error", err)
		return &StepError{DeploymentID: r.d.ID, Stage: domain.StatusSuccess, Err: err}
	}
	r.svc.metrics.observeOutcome(domain.StatusSuccess)
	r.logger.Info("deployment succeeded", "url", url, "duration", r.svc.now().Sub(r.start))
	return nil
}

func (r *run) transition(ctx context.Context, next domain.Status, message string) error {
	now := r.svc.now()
	if err := r.d.Advance(next, now); err != nil {
		return err
	}
	r.d.AppendLog(message, now)
	r.logger.Info(strings.ToLower(message), "stage", next)
	return r.svc.save(ctx, r.d)
}

// note appends a progress line within the current state.
func (r *run) note(ctx context.Context, line string) error {
	r.d.AppendLog(line, r.svc.now())
	r.logger.Debug(line, "stage", r.d.Status)
	return r.svc.save(ctx, r.d)
}

// fail records the failure and returns it as a *StepError. Persistence uses
// a context detached from cancellation so aborted requests still leave a
// FAILED record behind.
func (r *run) fail(ctx context.Context, stage domain.Status, cause error) error {
	stepErr := &StepError{DeploymentID: r.d.ID, Stage: stage, Err: cause}
	r.logger.Error("deployment stage failed", "stage", stage, "error", cause)

	persistCtx := context.WithoutCancel(ctx)
	now := r.svc.now()
	var exitErr *process.ExitError
	if errors.As(cause, &exitErr) {
		tail := exitErr.Tail
		if len(tail) > failureTailLines {
			tail = tail[len(tail)-failureTailLines:]
		}
		for _, line := range tail {
			r.d.AppendLog("  | "+line, now)
		}
	}
	if err := r.d.Fail(fmt.Sprintf("Deployment failed during %s: %v", stage, cause), now); err != nil {
		r.logger.Error("mark deployment failed", "error", err)
		return stepErr
	}
	if err := r.svc.save(persistCtx, r.d); err != nil {
		r.logger.Error("persist failed deployment", "error", err)
	}
	r.svc.metrics.observeOutcome(domain.StatusFailed)
	return stepErr
}

func (r *run) releaseWorkspace(ctx context.Context) {
	if r.lease == nil {
		return
	}
	if err := r.lease.Release(context.WithoutCancel(ctx)); err != nil {
		r.logger.Warn("workspace cleanup failed", "dir", r.lease.Dir, "error", err)
		return
	}
	r.logger.Debug("workspace cleaned up", "dir", r.lease.Dir)
}

func (r *run) fork(ctx context.Context) error {
	user, repoName := r.req.Identity.Username, r.req.RepoName
	owner, source, err := r.req.Template.SourceRepo()
	if err != nil {
		return err
	}

	existing, err := r.session.GetRepo(ctx, user, repoName)
	if err != nil {
		return err
	}
	if existing.Found {
		if err := r.note(ctx, fmt.Sprintf("Repository %s/%s already exists, redeploying", user, repoName)); err != nil {
			return err
		}
	} else {
		if err := r.session.EnsureFork(ctx, owner, source, user); err != nil {
			return err
		}
		if err := r.note(ctx, fmt.Sprintf("Forked %s/%s", owner, source)); err != nil {
			return err
		}
		if source != repoName {
			if err := r.session.RenameRepo(ctx, user, source, repoName); err != nil {
				return err
			}
			if err := r.note(ctx, fmt.Sprintf("Renamed repository to %s", repoName)); err != nil {
				return err
			}
		}
	}
	r.d.RepoURL = r.svc.deps.URLs.RepoURL(user, repoName)
	return nil
}

func (r *run) clone(ctx context.Context) error {
	lease, err := r.svc.deps.Workspaces.Acquire(r.req.Identity.Username, r.req.RepoName)
	if err != nil {
		return err
	}
	r.lease = lease

	remote := r.svc.deps.URLs.CloneURL(r.req.Identity.Username, r.req.RepoName)
	if err := r.svc.deps.VCS.Clone(ctx, remote, lease.Dir); err != nil {
		return err
	}
	if err := r.svc.deps.VCS.RewriteRemoteCredentials(ctx, lease.Dir, r.token); err != nil {
		return err
	}
	return r.note(ctx, "Repository cloned")
}

func (r *run) configure(ctx context.Context) error {
	root := r.lease.Dir
	profile, err := framework.Detect(root)
	if err != nil {
		return err
	}
	if hint := strings.TrimSpace(r.req.Template.TechStack); hint != "" && !strings.EqualFold(hint, string(profile.Framework)) {
		r.logger.Warn("template tech stack differs from detected framework", "tech_stack", hint, "framework", profile.Framework)
	}

	site := framework.Site{
		RepoName:  r.req.RepoName,
		Username:  r.req.Identity.Username,
		PublicURL: r.svc.deps.URLs.PagesURL(r.req.Identity.Username, r.req.RepoName),
	}
	if profile, err = framework.Configure(root, profile, site); err != nil {
		return err
	}
	r.profile = profile
	if err := r.note(ctx, fmt.Sprintf("Detected %s project", profile.Framework)); err != nil {
		return err
	}

	merged, err := framework.MergePayload(root, profile, site, r.req.Payload, r.req.Assets)
	if err != nil {
		return err
	}
	r.merged = merged
	return r.note(ctx, fmt.Sprintf("Merged configuration into %s", strings.Join(merged.DataFiles, ", ")))
}

func (r *run) build(ctx context.Context) error {
	root := r.lease.Dir
	if r.profile.HasManifest {
		if err := r.note(ctx, fmt.Sprintf("Installing dependencies with %s", r.profile.PackageManager)); err != nil {
			return err
		}
		if err := r.svc.deps.Builder.Install(ctx, root, r.profile); err != nil {
			return err
		}
	}
	if len(r.profile.BuildCommand) == 0 {
		if err := r.note(ctx, "No build step required"); err != nil {
			return err
		}
	} else {
		if err := r.note(ctx, "Running "+strings.Join(r.profile.BuildCommand, " ")); err != nil {
			return err
		}
		if err := r.svc.deps.Builder.Build(ctx, root, r.profile); err != nil {
			return err
		}
	}
	output, err := r.svc.deps.Builder.Output(root, r.profile)
	if err != nil {
		return err
	}
	r.output = output
	return nil
}

func (r *run) deploy(ctx context.Context) error {
	root := r.lease.Dir
	var extras []publish.Extra
	if len(r.merged.DataFiles) > 0 {
		extras = append(extras, publish.Extra{
			Source: filepath.Join(root, filepath.FromSlash(r.merged.DataFiles[0])),
			Target: "data.json",
		})
	}
	if r.merged.AssetsDir != "" {
		extras = append(extras, publish.Extra{
			Source: filepath.Join(root, filepath.FromSlash(r.merged.AssetsDir)),
			Target: "assets",
		})
	}

	snap, err := r.svc.deps.Publisher.Snapshot(r.output, extras...)
	if err != nil {
		return err
	}
	url, err := r.svc.deps.Publisher.Publish(ctx, root, snap, publish.Target{
		Owner:  r.req.Identity.Username,
		Repo:   r.req.RepoName,
		Branch: r.svc.branch,
	})
	if err != nil {
		return err
	}
	if err := r.note(ctx, "Published to "+r.svc.branch); err != nil {
		return err
	}
	if err := r.session.EnableHostingSite(ctx, r.req.Identity.Username, r.req.RepoName, r.svc.branch, r.svc.path); err != nil {
		return err
	}
	r.url = url
	return r.note(ctx, "Hosting enabled")
}
