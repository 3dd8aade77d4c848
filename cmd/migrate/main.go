package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/templatehub/internal/app/migrate"
	"github.com/splax/templatehub/internal/repository/sqlite"
	"github.com/splax/templatehub/pkg/config"
	"github.com/splax/templatehub/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	log := logger.New("migrate", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// The SQLite schema is embedded and applied on open; only "up" applies.
	if strings.EqualFold(cfg.StoreDriver, "sqlite") {
		if *command != "up" {
			log.Error("command not supported for sqlite store", "command", *command)
			os.Exit(1)
		}
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			log.Error("failed to apply migrations", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		_ = db.Close()
		log.Info("migration command completed", "command", *command, "store", "sqlite")
		return
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		err = runner.Down(ctx, *target)
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", *command)
}
