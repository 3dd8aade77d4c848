package sqlite_test

import (
	"testing"

	"github.com/splax/templatehub/internal/repository"
	"github.com/splax/templatehub/internal/repository/repositorytest"
	"github.com/splax/templatehub/internal/repository/sqlite"
)

func TestDeploymentRepo(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.DeploymentRepository {
		return &sqlite.DeploymentRepo{DB: sqlite.OpenTestDB(t)}
	})
}
