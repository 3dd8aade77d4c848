package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Template is a catalog entry describing a source repository.
type Template struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	SourceRepoURL string `yaml:"repo_url" json:"repoUrl"`
	TechStack     string `yaml:"tech_stack" json:"techStack"`
}

// SourceRepo extracts owner and repository name from SourceRepoURL. Both
// https://host/owner/repo(.git) and owner/repo forms are accepted.
func (t Template) SourceRepo() (owner, repo string, err error) {
	raw := strings.TrimSpace(t.SourceRepoURL)
	if raw == "" {
		return "", "", fmt.Errorf("%w: template %s has no repository url", ErrInvalidArgument, t.ID)
	}
	path := raw
	if strings.Contains(raw, "://") {
		parsed, perr := url.Parse(raw)
		if perr != nil {
			return "", "", fmt.Errorf("%w: template repository url: %v", ErrInvalidArgument, perr)
		}
		path = parsed.Path
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("%w: template repository url %q", ErrInvalidArgument, raw)
	}
	owner = parts[len(parts)-2]
	repo = strings.TrimSuffix(parts[len(parts)-1], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: template repository url %q", ErrInvalidArgument, raw)
	}
	return owner, repo, nil
}

// Identity is the authenticated user on whose behalf a deployment runs.
// TokenHandle is the encrypted access token and is decrypted only by the
// orchestrator.
type Identity struct {
	UserID      string
	Username    string
	TokenHandle string
}

// AssetKind distinguishes the user portrait from project images.
type AssetKind string

const (
	AssetUser    AssetKind = "user"
	AssetProject AssetKind = "project"
)

// Asset is an uploaded image staged on local disk.
type Asset struct {
	Kind         AssetKind
	OriginalName string
	Path         string
}

// Payload is the user-supplied content merged into the template data file.
type Payload map[string]any
