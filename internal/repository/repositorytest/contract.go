// Package repositorytest provides contract tests for
// [repository.DeploymentRepository] implementations.
package repositorytest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/internal/repository"
)

// Factory creates an empty [repository.DeploymentRepository] for each test.
type Factory func(t *testing.T) repository.DeploymentRepository

// Run exercises the [repository.DeploymentRepository] contract.
func Run(t *testing.T, factory Factory) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sample := func(id, userID string, created time.Time) *domain.Deployment {
		return domain.NewDeployment(id, userID, "octocat", "portfolio", "my-site", created)
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample("d1", "u1", base)

		if err := repo.CreateDeployment(ctx, d); err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		got, err := repo.GetDeploymentByID(ctx, "d1")
		if err != nil {
			t.Fatalf("GetDeploymentByID: %v", err)
		}
		if got.Status != domain.StatusInit {
			t.Errorf("Status = %q, want %q", got.Status, domain.StatusInit)
		}
		if got.Username != "octocat" || got.TemplateID != "portfolio" || got.RepoName != "my-site" {
			t.Errorf("unexpected identity fields: %+v", got)
		}
		if len(got.Logs) != 0 {
			t.Errorf("Logs = %v, want empty", got.Logs)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("CreatedAt = %s, want %s", got.CreatedAt, base)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_ = repo.CreateDeployment(ctx, sample("d1", "u1", base))
		err := repo.CreateDeployment(ctx, sample("d1", "u1", base))
		if !errors.Is(err, repository.ErrAlreadyExists) {
			t.Fatalf("second CreateDeployment: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.GetDeploymentByID(context.Background(), "missing")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("GetDeploymentByID: got %v, want ErrNotFound", err)
		}
	})

	t.Run("SavePersistsProgress", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample("d1", "u1", base)
		if err := repo.CreateDeployment(ctx, d); err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}

		later := base.Add(time.Minute)
		if err := d.Advance(domain.StatusForking, later); err != nil {
			t.Fatalf("Advance: %v", err)
		}
		d.AppendLog("forking portfolio", later)
		d.AppendLog("fork ready", later)
		d.RepoURL = "https://github.com/octocat/my-site"
		if err := repo.SaveDeployment(ctx, d); err != nil {
			t.Fatalf("SaveDeployment: %v", err)
		}

		got, err := repo.GetDeploymentByID(ctx, "d1")
		if err != nil {
			t.Fatalf("GetDeploymentByID: %v", err)
		}
		if got.Status != domain.StatusForking {
			t.Errorf("Status = %q, want %q", got.Status, domain.StatusForking)
		}
		if len(got.Logs) != 2 || got.Logs[0] != "forking portfolio" || got.Logs[1] != "fork ready" {
			t.Errorf("Logs = %v", got.Logs)
		}
		if got.RepoURL != d.RepoURL {
			t.Errorf("RepoURL = %q, want %q", got.RepoURL, d.RepoURL)
		}
		if !got.UpdatedAt.Equal(later) {
			t.Errorf("UpdatedAt = %s, want %s", got.UpdatedAt, later)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("CreatedAt changed to %s", got.CreatedAt)
		}
	})

	t.Run("SaveTerminal", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sample("d1", "u1", base)
		if err := repo.CreateDeployment(ctx, d); err != nil {
			t.Fatalf("CreateDeployment: %v", err)
		}
		if err := d.Fail("clone failed", base.Add(time.Second)); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if err := repo.SaveDeployment(ctx, d); err != nil {
			t.Fatalf("SaveDeployment: %v", err)
		}
		got, err := repo.GetDeploymentByID(ctx, "d1")
		if err != nil {
			t.Fatalf("GetDeploymentByID: %v", err)
		}
		if got.Status != domain.StatusFailed {
			t.Errorf("Status = %q, want FAILED", got.Status)
		}
		if len(got.Logs) == 0 || got.Logs[len(got.Logs)-1] != "clone failed" {
			t.Errorf("expected failure message as last log line, got %v", got.Logs)
		}
	})

	t.Run("SaveNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.SaveDeployment(context.Background(), sample("ghost", "u1", base))
		if !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("SaveDeployment: got %v, want ErrNotFound", err)
		}
	})

	t.Run("ListByUser", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		for i, id := range []string{"d1", "d2", "d3"} {
			if err := repo.CreateDeployment(ctx, sample(id, "u1", base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("CreateDeployment %s: %v", id, err)
			}
		}
		if err := repo.CreateDeployment(ctx, sample("other", "u2", base)); err != nil {
			t.Fatalf("CreateDeployment other: %v", err)
		}

		all, err := repo.ListDeploymentsByUser(ctx, "u1", 0)
		if err != nil {
			t.Fatalf("ListDeploymentsByUser: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("len = %d, want 3", len(all))
		}
		if all[0].ID != "d3" || all[2].ID != "d1" {
			t.Errorf("order = %s,%s,%s, want newest first", all[0].ID, all[1].ID, all[2].ID)
		}

		limited, err := repo.ListDeploymentsByUser(ctx, "u1", 2)
		if err != nil {
			t.Fatalf("ListDeploymentsByUser limited: %v", err)
		}
		if len(limited) != 2 || limited[0].ID != "d3" {
			t.Errorf("limited = %+v", limited)
		}

		none, err := repo.ListDeploymentsByUser(ctx, "nobody", 0)
		if err != nil {
			t.Fatalf("ListDeploymentsByUser nobody: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no records, got %d", len(none))
		}
	})
}
