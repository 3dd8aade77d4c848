package framework

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupportedProject indicates no known toolchain marker was found.
var ErrUnsupportedProject = errors.New("unsupported project type")

// Framework names the toolchain a template is built with.
type Framework string

const (
	FrameworkNext       Framework = "nextjs"
	FrameworkVite       Framework = "vite"
	FrameworkAngular    Framework = "angular"
	FrameworkCRA        Framework = "react-cra"
	FrameworkStaticHTML Framework = "static-html"
)

var (
	nextConfigs = []string{"next.config.js", "next.config.mjs", "next.config.cjs", "next.config.ts"}
	viteConfigs = []string{"vite.config.js", "vite.config.ts", "vite.config.mjs", "vite.config.mts", "vite.config.cjs"}
)

// Profile drives the build runner and the publisher. A nil BuildCommand
// means the project is published as is.
type Profile struct {
	Framework      Framework
	PackageManager PackageManager
	HasManifest    bool
	ConfigFile     string
	BuildCommand   []string
	OutputDir      string
}

// Site describes where the published project will be served from.
type Site struct {
	RepoName  string
	Username  string
	PublicURL string
}

// BasePath returns "/<repo>/".
func (s Site) BasePath() string {
	return "/" + strings.Trim(s.RepoName, "/") + "/"
}

// Detect classifies the project at root. Markers are checked in a fixed
// priority order because templates often carry more than one.
func Detect(root string) (Profile, error) {
	manifest, hasManifest, err := loadPackageManifest(root)
	if err != nil {
		return Profile{}, err
	}
	pm := detectPackageManager(root, manifest)
	build := []string{pm.String(), "run", "build"}
	profile := Profile{PackageManager: pm, HasManifest: hasManifest}

	if name := firstExisting(root, nextConfigs...); name != "" || manifest.hasDependency("next") {
		profile.Framework = FrameworkNext
		profile.ConfigFile = name
		profile.BuildCommand = build
		profile.OutputDir = "out"
		return profile, nil
	}
	if name := firstExisting(root, viteConfigs...); name != "" {
		profile.Framework = FrameworkVite
		profile.ConfigFile = name
		profile.BuildCommand = build
		profile.OutputDir = "dist"
		return profile, nil
	}
	if fileExists(filepath.Join(root, "angular.json")) {
		out, err := angularOutputDir(root, manifest)
		if err != nil {
			return Profile{}, err
		}
		profile.Framework = FrameworkAngular
		profile.ConfigFile = "angular.json"
		profile.BuildCommand = build
		profile.OutputDir = out
		return profile, nil
	}
	if manifest.hasDependency("react-scripts") {
		profile.Framework = FrameworkCRA
		profile.ConfigFile = "package.json"
		profile.BuildCommand = build
		profile.OutputDir = "build"
		return profile, nil
	}
	if fileExists(filepath.Join(root, "index.html")) {
		profile.Framework = FrameworkStaticHTML
		profile.OutputDir = "."
		return profile, nil
	}
	return Profile{}, ErrUnsupportedProject
}

type angularWorkspace struct {
	DefaultProject string `json:"defaultProject"`
	Projects       map[string]struct {
		Architect struct {
			Build struct {
				Options struct {
					OutputPath json.RawMessage `json:"outputPath"`
				} `json:"options"`
			} `json:"build"`
		} `json:"architect"`
	} `json:"projects"`
}

func angularOutputDir(root string, manifest *packageManifest) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "angular.json"))
	if err != nil {
		return "", fmt.Errorf("read angular.json: %w", err)
	}
	var ws angularWorkspace
	if err := json.Unmarshal(data, &ws); err != nil {
		return "", fmt.Errorf("parse angular.json: %w", err)
	}
	name := ws.DefaultProject
	if _, ok := ws.Projects[name]; !ok {
		names := make([]string, 0, len(ws.Projects))
		for key := range ws.Projects {
			names = append(names, key)
		}
		sort.Strings(names)
		name = ""
		if len(names) > 0 {
			name = names[0]
		}
	}
	if project, ok := ws.Projects[name]; ok {
		if out := parseOutputPath(project.Architect.Build.Options.OutputPath); out != "" {
			return out, nil
		}
	}
	pkg := name
	if manifest != nil && manifest.Name != "" {
		pkg = manifest.Name
	}
	if pkg == "" {
		return "dist", nil
	}
	return path.Join("dist", pkg), nil
}

// parseOutputPath accepts both the string form and the {"base": ...} object
// form of outputPath.
func parseOutputPath(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return filepath.ToSlash(strings.TrimSpace(s))
	}
	var obj struct {
		Base string `json:"base"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return filepath.ToSlash(strings.TrimSpace(obj.Base))
	}
	return ""
}
