package framework

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrUnrecognisedConfig indicates a build config file whose exported
// object could not be located.
var ErrUnrecognisedConfig = errors.New("unrecognised build config")

const generatedNextConfig = `/** @type {import('next').NextConfig} */
const nextConfig = {
  reactStrictMode: true,
};

export default nextConfig;
`

var (
	nextDirectives   = propertyKey("output", "basePath", "assetPrefix", "unoptimized")
	nextImagesOpen   = regexp.MustCompile(`images[ \t]*:[ \t]*\{`)
	viteBase         = propertyKey("base")
	configObjectOpen = []*regexp.Regexp{
		regexp.MustCompile(`defineConfig\(\s*(?:async\s*)?\([^)]*\)\s*=>\s*\(\s*\{`),
		regexp.MustCompile(`defineConfig\(\s*(?:async\s*)?\([^)]*\)\s*=>\s*\{[\s\S]*?return\s*\{`),
		regexp.MustCompile(`defineConfig\(\s*\{`),
		regexp.MustCompile(`(?:const|let|var)\s+nextConfig\b[^=]*=\s*\{`),
		regexp.MustCompile(`module\.exports\s*=\s*\{`),
		regexp.MustCompile(`export\s+default\s*\{`),
		regexp.MustCompile(`(?:const|let|var)\s+\w+\s*(?::\s*[\w.]+)?\s*=\s*\{`),
	}
)

// Configure rewrites the project so its output works when served from
// site.BasePath(). It is safe to run repeatedly. The returned profile has
// any site-specific build flags applied.
func Configure(root string, profile Profile, site Site) (Profile, error) {
	if strings.TrimSpace(site.RepoName) == "" {
		return Profile{}, fmt.Errorf("repository name required")
	}
	switch profile.Framework {
	case FrameworkNext:
		if err := configureNext(root, &profile, site); err != nil {
			return Profile{}, err
		}
	case FrameworkVite:
		if err := rewriteConfig(filepath.Join(root, profile.ConfigFile), func(src string) (string, error) {
			return setViteBase(src, site.BasePath())
		}); err != nil {
			return Profile{}, err
		}
	case FrameworkCRA:
		if err := setHomepage(root, site.PublicURL); err != nil {
			return Profile{}, err
		}
	case FrameworkAngular:
		profile.BuildCommand = append(append([]string(nil), profile.BuildCommand...), "--", "--base-href="+site.BasePath())
	case FrameworkStaticHTML:
	default:
		return Profile{}, fmt.Errorf("%w: %s", ErrUnsupportedProject, profile.Framework)
	}
	return profile, nil
}

func configureNext(root string, profile *Profile, site Site) error {
	if profile.ConfigFile == "" {
		profile.ConfigFile = "next.config.mjs"
		if err := os.WriteFile(filepath.Join(root, profile.ConfigFile), []byte(generatedNextConfig), 0o644); err != nil {
			return fmt.Errorf("write next config: %w", err)
		}
	}
	return rewriteConfig(filepath.Join(root, profile.ConfigFile), func(src string) (string, error) {
		return setNextExport(src, strings.TrimSuffix(site.BasePath(), "/"))
	})
}

func rewriteConfig(path string, rewrite func(string) (string, error)) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	out, err := rewrite(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if out == string(data) {
		return nil
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// setNextExport enforces static export under basePath. Existing directives
// are removed before the canonical ones are inserted at the top of the
// exported object.
func setNextExport(src, basePath string) (string, error) {
	out := removeProperties(src, nextDirectives)
	idx, err := objectOpenIndex(out)
	if err != nil {
		return "", err
	}
	directives := fmt.Sprintf("\n  output: %q,\n  basePath: %q,\n  assetPrefix: %q,", "export", basePath, basePath+"/")
	if !nextImagesOpen.MatchString(out) {
		directives += "\n  images: {\n  },"
	}
	out = out[:idx] + directives + out[idx:]
	loc := nextImagesOpen.FindStringIndex(out)
	if loc == nil {
		return "", ErrUnrecognisedConfig
	}
	out = out[:loc[1]] + "\n    unoptimized: true," + out[loc[1]:]
	return out, nil
}

// setViteBase leaves exactly one base option pointing at basePath.
func setViteBase(src, basePath string) (string, error) {
	out := removeProperties(src, viteBase)
	idx, err := objectOpenIndex(out)
	if err != nil {
		return "", err
	}
	return out[:idx] + fmt.Sprintf("\n  base: %q,", basePath) + out[idx:], nil
}

// propertyKey matches an object key, bare or quoted, up to its colon.
// Group 1 and 3 capture the quotes so mismatched ones can be rejected.
func propertyKey(names ...string) *regexp.Regexp {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = regexp.QuoteMeta(name)
	}
	return regexp.MustCompile(`(?:^|[\s{,])(["']?)(` + strings.Join(quoted, "|") + `)(["']?)[ \t]*:`)
}

// removeProperties deletes every property whose key matches key, together
// with its value and trailing comma. Values may span lines and contain
// calls, arrays, objects, strings and comments; they end at the first comma
// or closing bracket outside any of those. Keys are matched at any nesting
// depth and occurrences inside strings or comments are not recognised.
func removeProperties(src string, key *regexp.Regexp) string {
	var b strings.Builder
	pos := 0
	for pos < len(src) {
		loc := key.FindStringSubmatchIndex(src[pos:])
		if loc == nil {
			break
		}
		keyStart, colonEnd := pos+loc[2], pos+loc[1]
		if src[pos+loc[2]:pos+loc[3]] != src[pos+loc[6]:pos+loc[7]] {
			b.WriteString(src[pos:colonEnd])
			pos = colonEnd
			continue
		}

		end := valueEnd(src, colonEnd)
		for end > colonEnd && isSpace(src[end-1]) {
			end--
		}
		start := keyStart
		for start > pos && (src[start-1] == ' ' || src[start-1] == '\t') {
			start--
		}
		lineStart := start > pos && src[start-1] == '\n'
		if lineStart {
			start--
		} else {
			start = keyStart
		}
		if end < len(src) && src[end] == ',' {
			end++
			if !lineStart {
				for end < len(src) && (src[end] == ' ' || src[end] == '\t') {
					end++
				}
			}
		}
		b.WriteString(src[pos:start])
		pos = end
	}
	b.WriteString(src[pos:])
	return b.String()
}

// valueEnd returns the index of the comma or closing bracket that ends the
// value starting at i, or len(src).
func valueEnd(src string, i int) int {
	depth := 0
	for i < len(src) {
		switch src[i] {
		case '"', '\'', '`':
			i = skipString(src, i)
			continue
		case '/':
			if i+1 < len(src) && src[i+1] == '/' {
				for i < len(src) && src[i] != '\n' {
					i++
				}
				continue
			}
			if i+1 < len(src) && src[i+1] == '*' {
				if end := strings.Index(src[i+2:], "*/"); end >= 0 {
					i += end + 4
					continue
				}
				return len(src)
			}
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				return i
			}
			depth--
		case ',':
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return len(src)
}

// skipString returns the index just past the string literal opening at i.
func skipString(src string, i int) int {
	quote := src[i]
	for i++; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		}
	}
	return len(src)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func objectOpenIndex(src string) (int, error) {
	for _, re := range configObjectOpen {
		if loc := re.FindStringIndex(src); loc != nil {
			return loc[1], nil
		}
	}
	return 0, ErrUnrecognisedConfig
}

func setHomepage(root, publicURL string) error {
	path := filepath.Join(root, "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read package.json: %w", err)
	}
	var manifest map[string]any
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parse package.json: %w", err)
	}
	if current, _ := manifest["homepage"].(string); current == publicURL {
		return nil
	}
	manifest["homepage"] = publicURL
	return writeJSON(path, manifest)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
