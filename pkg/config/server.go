package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds runtime configuration for the templatehub server.
type ServerConfig struct {
	Environment string `yaml:"environment"`
	Addr        string `yaml:"addr"`
	LogLevel    string `yaml:"log_level"`

	StoreDriver   string `yaml:"store_driver"`
	DatabaseURL   string `yaml:"database_url"`
	SQLitePath    string `yaml:"sqlite_path"`
	MigrationsDir string `yaml:"migrations_dir"`

	JWTSecret          string `yaml:"jwt_secret"`
	TokenEncryptionKey string `yaml:"token_encryption_key"`

	Workdir        string `yaml:"workdir"`
	UploadDir      string `yaml:"upload_dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	TemplateCatalogPath string `yaml:"template_catalog_path"`

	GitHubAPIURL string `yaml:"github_api_url"`
	GitHubWebURL string `yaml:"github_web_url"`
	PagesDomain  string `yaml:"pages_domain"`
	PagesBranch  string `yaml:"pages_branch"`
	PagesPath    string `yaml:"pages_path"`

	ForkSettleDelay   time.Duration `yaml:"fork_settle_delay"`
	ForkPollAttempts  int           `yaml:"fork_poll_attempts"`
	ForkPollInterval  time.Duration `yaml:"fork_poll_interval"`
	RenameSettleDelay time.Duration `yaml:"rename_settle_delay"`
	CleanupGrace      time.Duration `yaml:"cleanup_grace"`

	GitTimeout   time.Duration `yaml:"git_timeout"`
	BuildTimeout time.Duration `yaml:"build_timeout"`

	BuildRunner string `yaml:"build_runner"`
	DockerHost  string `yaml:"docker_host"`
	BuildImage  string `yaml:"build_image"`

	CommitMessage     string `yaml:"commit_message"`
	CommitAuthorName  string `yaml:"commit_author_name"`
	CommitAuthorEmail string `yaml:"commit_author_email"`

	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	LockTTL       time.Duration `yaml:"lock_ttl"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	CallbackURL     string        `yaml:"callback_url"`
	CallbackToken   string        `yaml:"callback_token"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
}

// DefaultServerConfig returns the built-in defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Environment:         "development",
		Addr:                ":5000",
		LogLevel:            "info",
		StoreDriver:         "sqlite",
		DatabaseURL:         "postgres://templatehub:templatehub@db:5432/templatehub?sslmode=disable",
		SQLitePath:          "./data/templatehub.db",
		MigrationsDir:       "./db/migrations/postgres",
		JWTSecret:           "supersecuresecret",
		TokenEncryptionKey:  "secretKeyShouldBe32CharsLong1234",
		Workdir:             "/tmp/templatehub",
		UploadDir:           "/tmp/templatehub-uploads",
		MaxUploadBytes:      32 << 20,
		TemplateCatalogPath: "./templates.yaml",
		GitHubAPIURL:        "https://api.github.com/",
		GitHubWebURL:        "https://github.com",
		PagesDomain:         "github.io",
		PagesBranch:         "gh-pages",
		PagesPath:           "/",
		ForkSettleDelay:     5 * time.Second,
		ForkPollAttempts:    10,
		ForkPollInterval:    3 * time.Second,
		RenameSettleDelay:   3 * time.Second,
		CleanupGrace:        time.Second,
		GitTimeout:          2 * time.Minute,
		BuildTimeout:        15 * time.Minute,
		BuildRunner:         "host",
		DockerHost:          "unix:///var/run/docker.sock",
		BuildImage:          "node:20-bullseye",
		CommitMessage:       "Deploy via Template Hub",
		CommitAuthorName:    "Template Hub",
		CommitAuthorEmail:   "deploy@templatehub.local",
		LockTTL:             30 * time.Minute,
		ShutdownTimeout:     30 * time.Second,
		CallbackTimeout:     10 * time.Second,
	}
}

// LoadServerConfig resolves configuration once at process start: defaults,
// then the optional YAML file named by CONFIG_FILE, then environment variables.
func LoadServerConfig() (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path := strings.TrimSpace(GetString("CONFIG_FILE", "")); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return ServerConfig{}, err
		}
	}
	cfg.overlayEnv()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func (c *ServerConfig) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *ServerConfig) overlayEnv() {
	c.Environment = GetString("APP_ENV", c.Environment)
	c.Addr = GetString("TEMPLATEHUB_ADDR", c.Addr)
	c.LogLevel = GetString("LOG_LEVEL", c.LogLevel)
	c.StoreDriver = GetString("STORE_DRIVER", c.StoreDriver)
	c.DatabaseURL = GetString("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = GetString("SQLITE_PATH", c.SQLitePath)
	c.MigrationsDir = GetString("DB_MIGRATIONS_DIR", c.MigrationsDir)
	c.JWTSecret = GetString("JWT_SECRET", c.JWTSecret)
	c.TokenEncryptionKey = GetString("TOKEN_ENCRYPTION_KEY", c.TokenEncryptionKey)
	c.Workdir = GetString("TEMPLATEHUB_WORKDIR", c.Workdir)
	c.UploadDir = GetString("UPLOAD_DIR", c.UploadDir)
	c.MaxUploadBytes = int64(GetInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))
	c.TemplateCatalogPath = GetString("TEMPLATE_CATALOG_PATH", c.TemplateCatalogPath)
	c.GitHubAPIURL = GetString("GITHUB_API_URL", c.GitHubAPIURL)
	c.GitHubWebURL = GetString("GITHUB_WEB_URL", c.GitHubWebURL)
	c.PagesDomain = GetString("PAGES_DOMAIN", c.PagesDomain)
	c.PagesBranch = GetString("PAGES_BRANCH", c.PagesBranch)
	c.PagesPath = GetString("PAGES_PATH", c.PagesPath)
	c.ForkSettleDelay = GetDuration("FORK_SETTLE_DELAY", c.ForkSettleDelay)
	c.ForkPollAttempts = GetInt("FORK_POLL_ATTEMPTS", c.ForkPollAttempts)
	c.ForkPollInterval = GetDuration("FORK_POLL_INTERVAL", c.ForkPollInterval)
	c.RenameSettleDelay = GetDuration("RENAME_SETTLE_DELAY", c.RenameSettleDelay)
	c.CleanupGrace = GetDuration("CLEANUP_GRACE", c.CleanupGrace)
	c.GitTimeout = time.Duration(GetInt("GIT_TIMEOUT_SECONDS", int(c.GitTimeout/time.Second))) * time.Second
	c.BuildTimeout = time.Duration(GetInt("BUILD_TIMEOUT_SECONDS", int(c.BuildTimeout/time.Second))) * time.Second
	c.BuildRunner = GetString("BUILD_RUNNER", c.BuildRunner)
	c.DockerHost = GetString("DOCKER_HOST", c.DockerHost)
	c.BuildImage = GetString("BUILD_IMAGE", c.BuildImage)
	c.CommitMessage = GetString("COMMIT_MESSAGE", c.CommitMessage)
	c.CommitAuthorName = GetString("COMMIT_AUTHOR_NAME", c.CommitAuthorName)
	c.CommitAuthorEmail = GetString("COMMIT_AUTHOR_EMAIL", c.CommitAuthorEmail)
	c.RedisAddr = GetString("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = GetString("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = GetInt("REDIS_DB", c.RedisDB)
	c.LockTTL = GetDuration("LOCK_TTL", c.LockTTL)
	c.ShutdownTimeout = GetDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.CallbackURL = GetString("DEPLOY_CALLBACK_URL", c.CallbackURL)
	c.CallbackToken = GetString("DEPLOY_CALLBACK_TOKEN", c.CallbackToken)
	c.CallbackTimeout = time.Duration(GetInt("DEPLOY_CALLBACK_TIMEOUT_SECONDS", int(c.CallbackTimeout/time.Second))) * time.Second
}

// Validate rejects configurations the engine cannot run with.
func (c ServerConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.StoreDriver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.StoreDriver)
	}
	switch strings.ToLower(strings.TrimSpace(c.BuildRunner)) {
	case "host", "docker":
	default:
		return fmt.Errorf("unsupported build runner %q", c.BuildRunner)
	}
	if strings.TrimSpace(c.Workdir) == "" {
		return fmt.Errorf("workdir cannot be empty")
	}
	if c.ForkPollAttempts <= 0 {
		return fmt.Errorf("fork poll attempts must be positive")
	}
	if c.ForkPollInterval <= 0 {
		return fmt.Errorf("fork poll interval must be positive")
	}
	if strings.TrimSpace(c.TokenEncryptionKey) == "" {
		return fmt.Errorf("token encryption key cannot be empty")
	}
	return nil
}
