package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/templatehub/internal/app/migrate"
	"github.com/splax/templatehub/internal/container"
	"github.com/splax/templatehub/internal/lock"
	"github.com/splax/templatehub/internal/process"
	"github.com/splax/templatehub/internal/repository"
	"github.com/splax/templatehub/internal/repository/postgres"
	"github.com/splax/templatehub/internal/repository/sqlite"
	"github.com/splax/templatehub/pkg/config"
)

type store struct {
	repo   repository.DeploymentRepository
	health func(context.Context) error
	close  func()
}

// openStore connects the configured deployment store and brings its schema
// up to date.
func openStore(ctx context.Context, cfg config.ServerConfig, log *slog.Logger) (store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return store{}, fmt.Errorf("connect postgres: %w", err)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return store{}, err
		}
		if err := runner.Ping(ctx); err != nil {
			runner.Close()
			return store{}, fmt.Errorf("database ping: %w", err)
		}
		if err := runner.Ensure(ctx); err != nil {
			runner.Close()
			return store{}, fmt.Errorf("migrations: %w", err)
		}
		return store{repo: postgres.New(pool), health: pool.Ping, close: runner.Close}, nil
	default:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return store{}, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				log.Warn("close sqlite", "error", err)
			}
		}
		return store{repo: &sqlite.DeploymentRepo{DB: db}, health: db.PingContext, close: closeDB}, nil
	}
}

// buildExecutor returns the runner used for install and build commands.
// Git always runs on the host.
func buildExecutor(ctx context.Context, cfg config.ServerConfig, host process.Runner, log *slog.Logger) (process.Runner, func(), error) {
	if !strings.EqualFold(strings.TrimSpace(cfg.BuildRunner), "docker") {
		return host, func() {}, nil
	}
	cli, err := container.NewClient(cfg.DockerHost)
	if err != nil {
		return nil, nil, err
	}
	if err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, nil, err
	}
	log.Info("building inside containers", "image", cfg.BuildImage)
	return container.NewRunner(cli, cfg.BuildImage, log), func() { _ = cli.Close() }, nil
}

// lockerFor serializes deployments per target repository, across replicas
// when Redis is configured.
func lockerFor(cfg config.ServerConfig, log *slog.Logger) lock.Locker {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return lock.NewMemory()
	}
	locker, err := lock.NewRedis(addr, cfg.RedisPassword, cfg.RedisDB, cfg.LockTTL, log)
	if err != nil {
		log.Warn("redis lock unavailable, falling back to in-process locks", "error", err)
		return lock.NewMemory()
	}
	return locker
}
