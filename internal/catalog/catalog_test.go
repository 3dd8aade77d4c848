package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/splax/templatehub/internal/domain"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := `templates:
  - id: portfolio
    name: Portfolio
    repo_url: https://github.com/acme/portfolio-template
    tech_stack: nextjs
  - id: landing
    repo_url: acme/landing
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cat, err := LoadFile(path)
	require.NoError(t, err)

	tpl, err := cat.Get(context.Background(), "portfolio")
	require.NoError(t, err)
	require.Equal(t, "nextjs", tpl.TechStack)
	owner, repo, err := tpl.SourceRepo()
	require.NoError(t, err)
	require.Equal(t, "acme", owner)
	require.Equal(t, "portfolio-template", repo)

	list, err := cat.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "landing", list[0].ID)
	require.Equal(t, "landing", list[0].Name)
}

func TestGetUnknown(t *testing.T) {
	cat, err := NewStatic([]domain.Template{{ID: "a", SourceRepoURL: "acme/a"}})
	require.NoError(t, err)

	_, err = cat.Get(context.Background(), "b")
	require.ErrorIs(t, err, ErrNotFound)
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestNewStaticRejectsInvalid(t *testing.T) {
	_, err := NewStatic([]domain.Template{{ID: "a", SourceRepoURL: "acme/a"}, {ID: "a", SourceRepoURL: "acme/b"}})
	require.Error(t, err)

	_, err = NewStatic([]domain.Template{{ID: "a", SourceRepoURL: "not-a-repo"}})
	require.Error(t, err)

	_, err = NewStatic([]domain.Template{{SourceRepoURL: "acme/a"}})
	require.Error(t, err)
}
