package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/templatehub/internal/catalog"
	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/internal/repository"
	"github.com/splax/templatehub/internal/service/deploy"
	"github.com/splax/templatehub/internal/ws"
	"github.com/splax/templatehub/pkg/jwt"
)

const testSecret = "router-test-secret"

type deployerStub struct {
	mu          sync.Mutex
	requests    []deploy.Request
	stagedFound []bool
	result      deploy.Result
	err         error
	records     map[string]*domain.Deployment
	listLimit   int
}

func (d *deployerStub) Run(_ context.Context, req deploy.Request) (deploy.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	for _, a := range req.Assets {
		_, err := os.Stat(a.Path)
		d.stagedFound = append(d.stagedFound, err == nil)
	}
	return d.result, d.err
}

func (d *deployerStub) Get(_ context.Context, id string) (*domain.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return rec.Clone(), nil
}

func (d *deployerStub) ListByUser(_ context.Context, userID string, limit int) ([]domain.Deployment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listLimit = limit
	var out []domain.Deployment
	for _, rec := range d.records {
		if rec.UserID == userID {
			out = append(out, *rec.Clone())
		}
	}
	return out, nil
}

func newTestRouter(t *testing.T, deployer *deployerStub) *Router {
	t.Helper()
	cat, err := catalog.NewStatic([]domain.Template{
		{ID: "portfolio", Name: "Portfolio", SourceRepoURL: "https://github.com/acme/portfolio", TechStack: "react"},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	hub := ws.NewHub()
	t.Cleanup(hub.Close)
	return NewRouter(Options{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Deployer:   deployer,
		Templates:  cat,
		Hub:        hub,
		JWTSecret:  testSecret,
		UploadDir:  t.TempDir(),
		Registerer: prometheus.NewRegistry(),
	})
}

func sessionToken(t *testing.T, userID, username string) string {
	t.Helper()
	token, err := jwt.GenerateToken(userID, username, "sealed-handle", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func deployBody(t *testing.T, fields map[string]string, files map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	for field, names := range files {
		for _, name := range names {
			fw, err := mw.CreateFormFile(field, name)
			if err != nil {
				t.Fatalf("CreateFormFile: %v", err)
			}
			_, _ = fw.Write([]byte("image-bytes-" + name))
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func postDeploy(t *testing.T, r *Router, token string, fields map[string]string, files map[string][]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := deployBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/deploy", body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	msg, _ := body["message"].(string)
	return msg
}

var validFields = map[string]string{
	"templateId": "portfolio",
	"repoName":   "my-site",
	"configData": `{"name":"Ada","projects":[{"title":"Engine"}]}`,
}

func TestDeployRequiresAuthentication(t *testing.T) {
	r := newTestRouter(t, &deployerStub{})
	rec := postDeploy(t, r, "", validFields, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if msg := decodeMessage(t, rec); msg != "Not authenticated" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestDeployValidationOrder(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		status int
		msg    string
	}{
		{"missing config", map[string]string{"templateId": "portfolio", "repoName": "site"}, http.StatusBadRequest, "Invalid configData JSON"},
		{"bad config before missing fields", map[string]string{"configData": "{oops"}, http.StatusBadRequest, "Invalid configData JSON"},
		{"missing repo", map[string]string{"templateId": "portfolio", "configData": "{}"}, http.StatusBadRequest, "Missing required fields"},
		{"unknown template", map[string]string{"templateId": "nope", "repoName": "site", "configData": "{}"}, http.StatusNotFound, "Template not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deployer := &deployerStub{}
			r := newTestRouter(t, deployer)
			rec := postDeploy(t, r, sessionToken(t, "u1", "octocat"), tt.fields, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, rec.Code, rec.Body.String())
			}
			if msg := decodeMessage(t, rec); msg != tt.msg {
				t.Fatalf("unexpected message %q", msg)
			}
			if len(deployer.requests) != 0 {
				t.Fatalf("deployer must not run on rejected request")
			}
		})
	}
}

func TestDeploySuccessStagesUploads(t *testing.T) {
	deployer := &deployerStub{result: deploy.Result{DeploymentID: "dep-1", DeployedURL: "https://octocat.github.io/my-site/", RepoURL: "https://github.com/octocat/my-site"}}
	r := newTestRouter(t, deployer)
	rec := postDeploy(t, r, sessionToken(t, "u1", "octocat"), validFields, map[string][]string{
		"userImage":     {"me.PNG"},
		"projectImages": {"a.jpg", "b.jpg"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Success     bool   `json:"success"`
		DeployedURL string `json:"deployedUrl"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.DeployedURL != "https://octocat.github.io/my-site/" {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(deployer.requests) != 1 {
		t.Fatalf("expected one run, got %d", len(deployer.requests))
	}
	got := deployer.requests[0]
	if got.Identity.UserID != "u1" || got.Identity.Username != "octocat" || got.Identity.TokenHandle != "sealed-handle" {
		t.Fatalf("unexpected identity %+v", got.Identity)
	}
	if got.Template.ID != "portfolio" || got.RepoName != "my-site" || got.Payload["name"] != "Ada" {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Assets) != 3 || got.Assets[0].Kind != domain.AssetUser || got.Assets[0].OriginalName != "me.PNG" {
		t.Fatalf("unexpected assets %+v", got.Assets)
	}
	for i, found := range deployer.stagedFound {
		if !found {
			t.Fatalf("asset %d was not staged during the run", i)
		}
	}
	for _, a := range got.Assets {
		if !strings.HasSuffix(a.Path, ".png") && !strings.HasSuffix(a.Path, ".jpg") {
			t.Fatalf("staged path lost its extension: %s", a.Path)
		}
		if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
			t.Fatalf("staged upload %s not removed after the run", a.Path)
		}
	}
}

func TestDeployRejectsTooManyProjectImages(t *testing.T) {
	deployer := &deployerStub{}
	r := newTestRouter(t, deployer)
	names := make([]string, maxProjectImages+1)
	for i := range names {
		names[i] = fmt.Sprintf("p%d.png", i)
	}
	rec := postDeploy(t, r, sessionToken(t, "u1", "octocat"), validFields, map[string][]string{"projectImages": names})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(deployer.requests) != 0 {
		t.Fatalf("deployer must not run")
	}
}

func TestDeployMapsServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", fmt.Errorf("octocat/my-site: %w", domain.ErrConflict), http.StatusConflict},
		{"invalid", fmt.Errorf("%w: invalid repository name", domain.ErrInvalidArgument), http.StatusBadRequest},
		{"pipeline", &deploy.StepError{DeploymentID: "dep-9", Stage: domain.StatusBuilding, Err: errors.New("npm run build exited 1")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(t, &deployerStub{err: tt.err, result: deploy.Result{DeploymentID: "dep-9"}})
			rec := postDeploy(t, r, sessionToken(t, "u1", "octocat"), validFields, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if msg := decodeMessage(t, rec); msg != tt.err.Error() {
				t.Fatalf("expected message %q, got %q", tt.err.Error(), msg)
			}
		})
	}
}

func seededDeployer() *deployerStub {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mine := domain.NewDeployment("dep-1", "u1", "octocat", "portfolio", "my-site", now)
	mine.AppendLog("Deployment requested", now)
	theirs := domain.NewDeployment("dep-2", "u2", "hubot", "portfolio", "their-site", now)
	done := domain.NewDeployment("dep-3", "u1", "octocat", "portfolio", "old-site", now)
	_ = done.Fail("Deployment failed during INIT: token", now)
	return &deployerStub{records: map[string]*domain.Deployment{"dep-1": mine, "dep-2": theirs, "dep-3": done}}
}

func TestHistoryListsCallerDeployments(t *testing.T) {
	deployer := seededDeployer()
	r := newTestRouter(t, deployer)
	for _, path := range []string{"/deploy/history", "/deployments?limit=1000"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+sessionToken(t, "u1", "octocat"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var list []domain.Deployment
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("%s: expected 2 deployments, got %d", path, len(list))
		}
		for _, d := range list {
			if d.UserID != "u1" {
				t.Fatalf("leaked deployment %s", d.ID)
			}
		}
	}
	if deployer.listLimit != maxHistoryLimit {
		t.Fatalf("expected limit clamped to %d, got %d", maxHistoryLimit, deployer.listLimit)
	}
}

func TestGetDeploymentHidesOtherUsers(t *testing.T) {
	r := newTestRouter(t, seededDeployer())
	cases := map[string]int{"/deployments/dep-1": http.StatusOK, "/deployments/dep-2": http.StatusNotFound, "/deployments/missing": http.StatusNotFound}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+sessionToken(t, "u1", "octocat"))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: expected %d, got %d", path, want, rec.Code)
		}
	}
}

func TestEventsStreamEndsForTerminalDeployment(t *testing.T) {
	r := newTestRouter(t, seededDeployer())
	req := httptest.NewRequest(http.MethodGet, "/deployments/dep-3/events?access_token="+sessionToken(t, "u1", "octocat"), nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		r.ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream for a finished deployment did not close")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `data: {"id":"dep-3"`) || !strings.Contains(rec.Body.String(), `"status":"FAILED"`) {
		t.Fatalf("snapshot missing from stream: %q", rec.Body.String())
	}
}

func TestQueryTokenOnlyAcceptedForStreams(t *testing.T) {
	r := newTestRouter(t, seededDeployer())
	req := httptest.NewRequest(http.MethodGet, "/deployments/dep-1?access_token="+sessionToken(t, "u1", "octocat"), nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTemplatesEndpoints(t *testing.T) {
	r := newTestRouter(t, &deployerStub{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/templates", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"id":"portfolio"`) {
		t.Fatalf("unexpected list response %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/templates/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	r := newTestRouter(t, &deployerStub{})
	r.dbHealth = func(context.Context) error { return errors.New("connection refused") }
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("missing component error: %s", rec.Body.String())
	}
}
