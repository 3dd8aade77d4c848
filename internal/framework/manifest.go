package framework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// PackageManager is the node package manager a project uses.
type PackageManager string

const (
	PackageManagerNPM  PackageManager = "npm"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPNPM PackageManager = "pnpm"
)

func (pm PackageManager) String() string {
	if pm == "" {
		return string(PackageManagerNPM)
	}
	return string(pm)
}

type packageManifest struct {
	Name            string            `json:"name"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	PackageManager  string            `json:"packageManager"`
	Scripts         map[string]string `json:"scripts"`
}

func (m *packageManifest) hasDependency(name string) bool {
	if m == nil {
		return false
	}
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return false
	}
	for dep := range m.Dependencies {
		if strings.EqualFold(dep, target) {
			return true
		}
	}
	for dep := range m.DevDependencies {
		if strings.EqualFold(dep, target) {
			return true
		}
	}
	return false
}

// loadPackageManifest reports whether package.json exists. A manifest that
// exists but does not parse is an error, not an absent manifest.
func loadPackageManifest(root string) (*packageManifest, bool, error) {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, fmt.Errorf("read package.json: %w", err)
	}
	var manifest packageManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, true, fmt.Errorf("parse package.json: %w", err)
	}
	return &manifest, true, nil
}

func detectPackageManager(root string, manifest *packageManifest) PackageManager {
	if manifest != nil {
		if parsed := parsePackageManager(manifest.PackageManager); parsed != "" {
			return parsed
		}
	}
	switch {
	case fileExists(filepath.Join(root, "yarn.lock")):
		return PackageManagerYarn
	case fileExists(filepath.Join(root, "pnpm-lock.yaml")):
		return PackageManagerPNPM
	default:
		return PackageManagerNPM
	}
}

func parsePackageManager(value string) PackageManager {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return ""
	}
	if idx := strings.Index(trimmed, "@"); idx > 0 {
		trimmed = trimmed[:idx]
	}
	switch trimmed {
	case "yarn":
		return PackageManagerYarn
	case "pnpm":
		return PackageManagerPNPM
	case "npm":
		return PackageManagerNPM
	default:
		return ""
	}
}

func fileExists(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func firstExisting(root string, names ...string) string {
	for _, name := range names {
		if fileExists(filepath.Join(root, name)) {
			return name
		}
	}
	return ""
}
