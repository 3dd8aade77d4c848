package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/templatehub/internal/build"
	"github.com/splax/templatehub/internal/catalog"
	"github.com/splax/templatehub/internal/hosting"
	httpx "github.com/splax/templatehub/internal/http"
	"github.com/splax/templatehub/internal/notify"
	"github.com/splax/templatehub/internal/process"
	"github.com/splax/templatehub/internal/publish"
	"github.com/splax/templatehub/internal/retry"
	"github.com/splax/templatehub/internal/service/deploy"
	"github.com/splax/templatehub/internal/vcs"
	"github.com/splax/templatehub/internal/workspace"
	"github.com/splax/templatehub/internal/ws"
	"github.com/splax/templatehub/pkg/config"
	"github.com/splax/templatehub/pkg/crypto"
	"github.com/splax/templatehub/pkg/logger"
)

func main() {
	cfg, err := config.LoadServerConfig()
	log := logger.New("templatehub", logger.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open deployment store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.close()

	templates, err := catalog.LoadFile(cfg.TemplateCatalogPath)
	if err != nil {
		log.Error("failed to load template catalog", "path", cfg.TemplateCatalogPath, "error", err)
		os.Exit(1)
	}

	tokens, err := crypto.NewTokenCipher(cfg.TokenEncryptionKey)
	if err != nil {
		log.Error("invalid token encryption key", "error", err)
		os.Exit(1)
	}

	hostingClient, err := hosting.New(hosting.Options{
		APIURL:       cfg.GitHubAPIURL,
		WebURL:       cfg.GitHubWebURL,
		PagesDomain:  cfg.PagesDomain,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		ForkSettle:   cfg.ForkSettleDelay,
		ForkPoll:     retry.Policy{MaxAttempts: cfg.ForkPollAttempts, Interval: cfg.ForkPollInterval},
		RenameSettle: cfg.RenameSettleDelay,
		Logger:       log,
	})
	if err != nil {
		log.Error("failed to configure hosting client", "error", err)
		os.Exit(1)
	}

	workspaces, err := workspace.New(cfg.Workdir, cfg.CleanupGrace)
	if err != nil {
		log.Error("failed to prepare workdir", "path", cfg.Workdir, "error", err)
		os.Exit(1)
	}

	hostRunner := process.NewExecRunner(log)
	git := vcs.New(hostRunner, vcs.Options{
		Timeout:     cfg.GitTimeout,
		AuthorName:  cfg.CommitAuthorName,
		AuthorEmail: cfg.CommitAuthorEmail,
		Logger:      log,
	})

	buildExec, closeBuildExec, err := buildExecutor(ctx, cfg, hostRunner, log)
	if err != nil {
		log.Error("failed to configure build runner", "runner", cfg.BuildRunner, "error", err)
		os.Exit(1)
	}
	defer closeBuildExec()

	locker := lockerFor(cfg, log)
	defer locker.Close()

	hub := ws.NewHub()
	defer hub.Close()
	observers := []deploy.Observer{ws.NewDeploymentStream(hub)}
	if url := strings.TrimSpace(cfg.CallbackURL); url != "" {
		callback, err := notify.NewCallback(url, cfg.CallbackToken, &http.Client{Timeout: cfg.CallbackTimeout})
		if err != nil {
			log.Error("invalid deployment callback", "error", err)
			os.Exit(1)
		}
		observers = append(observers, callback)
	}

	svc, err := deploy.New(deploy.Dependencies{
		Store:      st.repo,
		Sessions:   func(token string) deploy.HostingSession { return hostingClient.Session(token) },
		URLs:       hostingClient,
		VCS:        git,
		Workspaces: workspaces,
		Builder:    build.New(buildExec, cfg.BuildTimeout, log),
		Publisher:  publish.New(git, workspaces, hostingClient, cfg.CommitMessage, log),
		Tokens:     tokens,
		Locker:     locker,
		Observers:  observers,
	}, deploy.Options{
		PagesBranch: cfg.PagesBranch,
		PagesPath:   cfg.PagesPath,
		Logger:      log,
		Registerer:  prometheus.DefaultRegisterer,
	})
	if err != nil {
		log.Error("failed to configure deployment service", "error", err)
		os.Exit(1)
	}

	router := httpx.NewRouter(httpx.Options{
		Logger:         log,
		Deployer:       svc,
		Templates:      templates,
		Hub:            hub,
		JWTSecret:      cfg.JWTSecret,
		UploadDir:      cfg.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		DBHealth:       st.health,
		Registerer:     prometheus.DefaultRegisterer,
		Gatherer:       prometheus.DefaultGatherer,
	})

	// Deploy requests hold the connection for the whole pipeline, so no
	// write timeout is set.
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("templatehub server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "build_runner", cfg.BuildRunner)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("templatehub server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
