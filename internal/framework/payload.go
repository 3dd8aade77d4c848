package framework

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/splax/templatehub/internal/domain"
)

// DataFileLocations are the places templates read their data file from, in
// lookup order.
var DataFileLocations = []string{"src/data.json", "public/data.json", "data.json"}

// Merged describes what MergePayload wrote into the project.
type Merged struct {
	// Data is the final document written to every data file.
	Data map[string]any
	// DataFiles are the project-relative paths that were written.
	DataFiles []string
	// AssetsDir is the project-relative assets directory, empty when no
	// assets were supplied.
	AssetsDir string
}

// AssetsDir returns the conventional static assets directory for profile.
func AssetsDir(profile Profile) string {
	switch profile.Framework {
	case FrameworkAngular:
		return "src/assets"
	case FrameworkStaticHTML:
		return "assets"
	default:
		return "public/assets"
	}
}

// MergePayload copies assets into the project, points the payload at their
// final URLs and shallow-merges the payload over the template's data file.
// The staged asset files are left in place for the caller to remove.
func MergePayload(root string, profile Profile, site Site, payload domain.Payload, assets []domain.Asset) (Merged, error) {
	data := map[string]any{}
	for _, loc := range DataFileLocations {
		existing, ok, err := readDataFile(filepath.Join(root, loc))
		if err != nil {
			return Merged{}, err
		}
		if ok {
			data = existing
			break
		}
	}
	for key, value := range payload {
		data[key] = value
	}

	merged := Merged{Data: data}
	if len(assets) > 0 {
		assetsDir := AssetsDir(profile)
		merged.AssetsDir = assetsDir
		projectCount := 0
		for _, asset := range assets {
			ext := strings.ToLower(filepath.Ext(asset.OriginalName))
			var rel string
			switch asset.Kind {
			case domain.AssetUser:
				rel = path.Join("user", "profile"+ext)
			case domain.AssetProject:
				projectCount++
				rel = path.Join("projects", fmt.Sprintf("project-%d%s", projectCount, ext))
			default:
				return Merged{}, fmt.Errorf("unknown asset kind %q", asset.Kind)
			}
			dest := filepath.Join(root, filepath.FromSlash(assetsDir), filepath.FromSlash(rel))
			if err := copyAsset(asset.Path, dest); err != nil {
				return Merged{}, err
			}
			assetURL := site.BasePath() + "assets/" + rel
			switch asset.Kind {
			case domain.AssetUser:
				setProfileImage(data, assetURL)
			case domain.AssetProject:
				appendProjectImage(data, assetURL)
			}
		}
	}

	for _, loc := range DataFileLocations {
		if fileExists(filepath.Join(root, loc)) {
			merged.DataFiles = append(merged.DataFiles, loc)
		}
	}
	if len(merged.DataFiles) == 0 {
		merged.DataFiles = []string{"data.json"}
	}
	for _, loc := range merged.DataFiles {
		if err := writeJSON(filepath.Join(root, filepath.FromSlash(loc)), data); err != nil {
			return Merged{}, err
		}
	}
	return merged, nil
}

func readDataFile(path string) (map[string]any, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		// A template data file that is not an object is replaced outright.
		return map[string]any{}, true, nil
	}
	return doc, true, nil
}

func copyAsset(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create assets dir: %w", err)
	}
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read asset: %w", err)
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		return fmt.Errorf("write asset: %w", err)
	}
	return nil
}

func setProfileImage(data map[string]any, url string) {
	personal, ok := data["personal"].(map[string]any)
	if !ok {
		personal = map[string]any{}
		data["personal"] = personal
	}
	personal["profileImage"] = url
}

func appendProjectImage(data map[string]any, url string) {
	projects, _ := data["projects"].([]any)
	if len(projects) == 0 {
		projects = []any{map[string]any{}}
	}
	first, ok := projects[0].(map[string]any)
	if !ok {
		first = map[string]any{}
		projects[0] = first
	}
	images, _ := first["images"].([]any)
	first["images"] = append(images, url)
	data["projects"] = projects
}
