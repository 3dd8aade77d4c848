//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/splax/templatehub/internal/app/migrate"
	"github.com/splax/templatehub/internal/repository"
	"github.com/splax/templatehub/internal/repository/postgres"
	"github.com/splax/templatehub/internal/repository/repositorytest"
	"github.com/splax/templatehub/pkg/logger"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("templatehub"),
		tcpostgres.WithUsername("templatehub"),
		tcpostgres.WithPassword("templatehub"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

func TestDeploymentRepository(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	runner, err := migrate.New(pool, dsn, "../../../db/migrations/postgres", logger.New("test", logger.ParseLevel("error")))
	if err != nil {
		t.Fatalf("migrate.New: %v", err)
	}
	if err := runner.Ensure(ctx); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	repositorytest.Run(t, func(t *testing.T) repository.DeploymentRepository {
		if _, err := pool.Exec(ctx, `TRUNCATE deployments`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return postgres.New(pool)
	})
}
