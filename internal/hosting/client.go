package hosting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/splax/templatehub/internal/retry"
)

var (
	// ErrForkNotReady indicates the fork never became visible within the poll policy.
	ErrForkNotReady = errors.New("fork not ready")
	// ErrUnauthorized indicates the hosting API rejected the access token.
	ErrUnauthorized = errors.New("hosting api unauthorized")
)

// Options configures the hosting client.
type Options struct {
	APIURL       string
	WebURL       string
	PagesDomain  string
	HTTPClient   *http.Client
	ForkSettle   time.Duration
	ForkPoll     retry.Policy
	RenameSettle time.Duration
	Logger       *slog.Logger
}

// Client builds per-token sessions against the hosting REST API.
type Client struct {
	apiURL *url.URL
	webURL string
	domain string
	opts   Options
}

// New validates options and returns a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.APIURL)
	if raw == "" {
		raw = "https://api.github.com/"
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	apiURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid hosting api url: %w", err)
	}
	web := strings.TrimRight(strings.TrimSpace(opts.WebURL), "/")
	if web == "" {
		web = "https://github.com"
	}
	domain := strings.TrimSpace(opts.PagesDomain)
	if domain == "" {
		domain = "github.io"
	}
	if opts.ForkPoll.MaxAttempts <= 0 {
		opts.ForkPoll = retry.Policy{MaxAttempts: 10, Interval: 3 * time.Second}
	}
	return &Client{apiURL: apiURL, webURL: web, domain: domain, opts: opts}, nil
}

// Session returns an authenticated view of the API for token.
func (c *Client) Session(token string) *Session {
	gh := github.NewClient(c.opts.HTTPClient).WithAuthToken(token)
	base := *c.apiURL
	gh.BaseURL = &base
	return &Session{gh: gh, opts: c.opts}
}

// RepoURL returns the browser URL of owner/repo.
func (c *Client) RepoURL(owner, repo string) string {
	return fmt.Sprintf("%s/%s/%s", c.webURL, owner, repo)
}

// CloneURL returns the anonymous https clone URL of owner/repo.
func (c *Client) CloneURL(owner, repo string) string {
	return c.RepoURL(owner, repo) + ".git"
}

// PagesURL returns the public site URL for owner/repo.
func (c *Client) PagesURL(owner, repo string) string {
	return fmt.Sprintf("https://%s.%s/%s/", strings.ToLower(owner), c.domain, repo)
}

// Lookup is the result of a repository lookup; a missing repository is a
// normal outcome, not an error.
type Lookup struct {
	Found    bool
	FullName string
	CloneURL string
	HTMLURL  string
}

// Session performs hosting operations with one user's credentials.
type Session struct {
	gh   *github.Client
	opts Options
}

// GetRepo looks up owner/repo.
func (s *Session) GetRepo(ctx context.Context, owner, repo string) (Lookup, error) {
	r, resp, err := s.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Lookup{}, nil
		}
		return Lookup{}, wrap("get repository", resp, err)
	}
	return Lookup{
		Found:    true,
		FullName: r.GetFullName(),
		CloneURL: r.GetCloneURL(),
		HTMLURL:  r.GetHTMLURL(),
	}, nil
}

// EnsureFork makes sure targetOwner has a fork of owner/repo. An existing
// targetOwner/repo is reused as is.
func (s *Session) EnsureFork(ctx context.Context, owner, repo, targetOwner string) error {
	existing, err := s.GetRepo(ctx, targetOwner, repo)
	if err != nil {
		return err
	}
	if existing.Found {
		s.log("fork already exists", "repo", targetOwner+"/"+repo)
		return nil
	}

	_, resp, err := s.gh.Repositories.CreateFork(ctx, owner, repo, &github.RepositoryCreateForkOptions{})
	if err != nil {
		var accepted *github.AcceptedError
		if !errors.As(err, &accepted) {
			return wrap("create fork", resp, err)
		}
	}
	s.log("fork requested", "source", owner+"/"+repo, "target", targetOwner)
	if err := retry.Sleep(ctx, s.opts.ForkSettle); err != nil {
		return err
	}

	_, err = retry.Poll(ctx, s.opts.ForkPoll, func(ctx context.Context) (Lookup, bool, error) {
		lookup, err := s.GetRepo(ctx, targetOwner, repo)
		if err != nil {
			return Lookup{}, false, err
		}
		return lookup, lookup.Found, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w: %s/%s", ErrForkNotReady, targetOwner, repo)
	}
	return err
}

// RenameRepo renames owner/repo to newName and waits for the rename to settle.
func (s *Session) RenameRepo(ctx context.Context, owner, repo, newName string) error {
	if repo == newName {
		return nil
	}
	_, resp, err := s.gh.Repositories.Edit(ctx, owner, repo, &github.Repository{Name: github.String(newName)})
	if err != nil {
		return wrap("rename repository", resp, err)
	}
	s.log("repository renamed", "from", owner+"/"+repo, "to", owner+"/"+newName)
	return retry.Sleep(ctx, s.opts.RenameSettle)
}

// EnableHostingSite turns on static hosting for branch/path. A site that is
// already enabled counts as success.
func (s *Session) EnableHostingSite(ctx context.Context, owner, repo, branch, path string) error {
	if path == "" {
		path = "/"
	}
	pages := &github.Pages{Source: &github.PagesSource{Branch: github.String(branch), Path: github.String(path)}}
	_, resp, err := s.gh.Repositories.EnablePages(ctx, owner, repo, pages)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			s.log("hosting site already enabled", "repo", owner+"/"+repo)
			return nil
		}
		return wrap("enable hosting site", resp, err)
	}
	return nil
}

func (s *Session) log(msg string, args ...any) {
	if s.opts.Logger != nil {
		s.opts.Logger.Info(msg, args...)
	}
}

func wrap(op string, resp *github.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %v", op, ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
