package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	apiclient "github.com/splax/templatehub/pkg/api/client"
)

const (
	defaultAPIBaseURL = "http://localhost:5000"
	keyringService    = "templatehub"
)

type cliConfig struct {
	APIBaseURL string `json:"api_base_url"`
	Username   string `json:"username,omitempty"`
	// SessionToken is only written when the OS keyring is unavailable.
	SessionToken string `json:"session_token,omitempty"`
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	cfg := cliConfig{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cliConfig{}, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cliConfig{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if strings.TrimSpace(apiOverride) != "" {
		cfg.APIBaseURL = apiOverride
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "templatehub", "config.json"), nil
}

// storeSession keeps the session token in the OS keyring, falling back to
// the config file.
func storeSession(cfg *cliConfig, username, token string) error {
	cfg.Username = username
	if err := keyring.Set(keyringService, username, token); err != nil {
		fmt.Fprintf(os.Stderr, "warning: keyring unavailable (%v), storing session in config file\n", err)
		cfg.SessionToken = token
	} else {
		cfg.SessionToken = ""
	}
	return saveConfig(*cfg)
}

func clearSession(cfg *cliConfig) error {
	if cfg.Username != "" {
		if err := keyring.Delete(keyringService, cfg.Username); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("remove keyring entry: %w", err)
		}
	}
	cfg.Username = ""
	cfg.SessionToken = ""
	return saveConfig(*cfg)
}

func sessionToken(cfg cliConfig) (string, error) {
	if env := strings.TrimSpace(os.Getenv("TEMPLATEHUB_TOKEN")); env != "" {
		return env, nil
	}
	if cfg.SessionToken != "" {
		return cfg.SessionToken, nil
	}
	if cfg.Username != "" {
		token, err := keyring.Get(keyringService, cfg.Username)
		if err == nil && token != "" {
			return token, nil
		}
	}
	return "", errors.New("please login first using 'hubctl login'")
}

// session loads config, the session token and an API client.
func session() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token, err := sessionToken(cfg)
	if err != nil {
		return nil, "", err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}
