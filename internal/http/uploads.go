package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/splax/templatehub/internal/domain"
)

const (
	maxUserImages    = 1
	maxProjectImages = 10
)

var errInvalidConfigData = errors.New("invalid configData JSON")

// deployForm is a parsed POST /deploy body.
type deployForm struct {
	TemplateID string
	RepoName   string
	Payload    domain.Payload
	Assets     []domain.Asset
}

// parseDeployForm reads the multipart body and stages uploaded images under
// dir. The returned cleanup removes staged files and is safe to call when an
// error is returned.
func parseDeployForm(req *http.Request, dir string, maxBytes int64) (deployForm, func(), error) {
	var form deployForm
	var staged []string
	cleanup := func() {
		for _, p := range staged {
			_ = os.Remove(p)
		}
	}
	if err := req.ParseMultipartForm(maxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return form, cleanup, fmt.Errorf("%w: %w", domain.ErrInvalidArgument, err)
	}
	if req.MultipartForm != nil {
		defer func() { _ = req.MultipartForm.RemoveAll() }()
	}

	raw := strings.TrimSpace(req.FormValue("configData"))
	if raw == "" {
		return form, cleanup, errInvalidConfigData
	}
	var payload domain.Payload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		return form, cleanup, errInvalidConfigData
	}
	form.Payload = payload
	form.TemplateID = strings.TrimSpace(req.FormValue("templateId"))
	form.RepoName = strings.TrimSpace(req.FormValue("repoName"))

	if req.MultipartForm == nil {
		return form, cleanup, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return form, cleanup, fmt.Errorf("create upload dir: %w", err)
	}
	fields := []struct {
		name string
		kind domain.AssetKind
		max  int
	}{
		{"userImage", domain.AssetUser, maxUserImages},
		{"projectImages", domain.AssetProject, maxProjectImages},
	}
	for _, f := range fields {
		headers := req.MultipartForm.File[f.name]
		if len(headers) > f.max {
			return form, cleanup, fmt.Errorf("%w: at most %d files allowed for %s", domain.ErrInvalidArgument, f.max, f.name)
		}
		for _, h := range headers {
			path, err := stageUpload(dir, h)
			if err != nil {
				return form, cleanup, err
			}
			staged = append(staged, path)
			form.Assets = append(form.Assets, domain.Asset{Kind: f.kind, OriginalName: filepath.Base(h.Filename), Path: path})
		}
	}
	return form, cleanup, nil
}

func stageUpload(dir string, h *multipart.FileHeader) (string, error) {
	src, err := h.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", h.Filename, err)
	}
	defer src.Close()
	path := filepath.Join(dir, uuid.NewString()+strings.ToLower(filepath.Ext(h.Filename)))
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return path, nil
}
