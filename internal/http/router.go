package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/templatehub/internal/catalog"
	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/internal/repository"
	"github.com/splax/templatehub/internal/service/deploy"
	"github.com/splax/templatehub/internal/ws"
)

const (
	healthCheckTimeout    = 2 * time.Second
	defaultHistoryLimit   = 50
	maxHistoryLimit       = 500
	defaultHeartbeat      = 15 * time.Second
	defaultMaxUploadBytes = 32 << 20
)

// Deployer runs deployments and reads their records.
type Deployer interface {
	Run(ctx context.Context, req deploy.Request) (deploy.Result, error)
	Get(ctx context.Context, id string) (*domain.Deployment, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Deployment, error)
}

// Options configures a Router.
type Options struct {
	Logger         *slog.Logger
	Deployer       Deployer
	Templates      catalog.Catalog
	Hub            *ws.Hub
	JWTSecret      string
	UploadDir      string
	MaxUploadBytes int64
	DBHealth       func(context.Context) error
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	deployer       Deployer
	templates      catalog.Catalog
	hub            *ws.Hub
	jwtSecret      string
	uploadDir      string
	maxUploadBytes int64
	dbHealth       func(context.Context) error
	metrics        *httpMetrics
	gatherer       prometheus.Gatherer
	upgrader       websocket.Upgrader
	heartbeat      time.Duration
}

// NewRouter assembles routes with dependencies.
func NewRouter(opts Options) *Router {
	r := &Router{
		mux:            http.NewServeMux(),
		logger:         opts.Logger,
		deployer:       opts.Deployer,
		templates:      opts.Templates,
		hub:            opts.Hub,
		jwtSecret:      opts.JWTSecret,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
		dbHealth:       opts.DBHealth,
		metrics:        newHTTPMetrics(opts.Registerer),
		gatherer:       opts.Gatherer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		heartbeat: defaultHeartbeat,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.maxUploadBytes <= 0 {
		r.maxUploadBytes = defaultMaxUploadBytes
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("/templates", r.audit("templates", r.handleTemplates))
	r.mux.HandleFunc("/templates/", r.audit("template", r.handleTemplate))
	r.mux.HandleFunc("/deploy", r.audit("deploy", r.requireAuth(r.handleDeploy)))
	r.mux.HandleFunc("/deploy/history", r.audit("deploy_history", r.requireAuth(r.handleHistory)))
	r.mux.HandleFunc("/deployments", r.audit("deployments", r.requireAuth(r.handleHistory)))
	r.mux.HandleFunc("/deployments/", r.audit("deployment", r.requireAuth(r.handleDeploymentSubroutes)))
}

func (r *Router) handleTemplates(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	templates, err := r.templates.List(req.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, templates)
}

func (r *Router) handleTemplate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(req.URL.Path, "/templates/")
	if id == "" || strings.Contains(id, "/") {
		r.notFound(w)
		return
	}
	tpl, err := r.templates.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// handleDeploy runs the whole pipeline inside the request and answers with
// the published URL. The pipeline is detached from the request context so a
// client disconnect cannot leave the record half-written.
func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	id, ok := identityFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for deploy route", "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUploadBytes)
	form, cleanup, err := parseDeployForm(req, r.uploadDir, r.maxUploadBytes)
	defer cleanup()
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
		case errors.Is(err, errInvalidConfigData):
			writeError(w, http.StatusBadRequest, "Invalid configData JSON")
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			r.logger.Error("stage deploy upload failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if form.TemplateID == "" || form.RepoName == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	tpl, err := r.templates.Get(req.Context(), form.TemplateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := r.deployer.Run(context.WithoutCancel(req.Context()), deploy.Request{
		Identity: id,
		Template: tpl,
		RepoName: form.RepoName,
		Payload:  form.Payload,
		Assets:   form.Assets,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			body := map[string]any{"message": err.Error()}
			if result.DeploymentID != "" {
				body["deploymentId"] = result.DeploymentID
			}
			writeJSON(w, http.StatusInternalServerError, body)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"deployedUrl":  result.DeployedURL,
		"repoUrl":      result.RepoURL,
		"deploymentId": result.DeploymentID,
	})
}

func (r *Router) handleHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	id, ok := identityFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	limit := defaultHistoryLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}
	deployments, err := r.deployer.ListByUser(req.Context(), id.UserID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, deployments)
}

func (r *Router) handleDeploymentSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := strings.Split(strings.TrimPrefix(req.URL.Path, "/deployments/"), "/")
	if parts[0] == "" || len(parts) > 2 {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	d, ok := r.ownedDeployment(w, req, parts[0])
	if !ok {
		return
	}
	if len(parts) == 1 {
		writeJSON(w, http.StatusOK, d)
		return
	}
	switch parts[1] {
	case "stream":
		r.handleStreamWS(w, req, d.ID)
	case "events":
		r.handleStreamSSE(w, req, d.ID)
	default:
		r.notFound(w)
	}
}

// ownedDeployment loads a record and hides it from other users.
func (r *Router) ownedDeployment(w http.ResponseWriter, req *http.Request, id string) (*domain.Deployment, bool) {
	caller, ok := identityFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}
	d, err := r.deployer.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) || errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Deployment not found")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if d.UserID != caller.UserID {
		writeError(w, http.StatusNotFound, "Deployment not found")
		return nil, false
	}
	return d, true
}

// subscribe registers client and then sends the current record, so updates
// that land between the two are never lost. It reports whether the
// deployment is still running.
func (r *Router) subscribe(ctx context.Context, deploymentID string, client ws.Subscriber) bool {
	r.hub.Register(deploymentID, client)
	d, err := r.deployer.Get(ctx, deploymentID)
	if err != nil {
		r.logger.Warn("stream snapshot failed", "deployment_id", deploymentID, "error", err)
		return true
	}
	payload, err := json.Marshal(d)
	if err == nil {
		_ = client.Send(payload)
	}
	return !d.Status.Terminal()
}

func (r *Router) handleStreamWS(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	if !r.subscribe(req.Context(), deploymentID, client) {
		r.hub.Unregister(deploymentID, client)
		client.Close()
		return
	}
	go func() {
		defer func() {
			r.hub.Unregister(deploymentID, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *Router) handleStreamSSE(w http.ResponseWriter, req *http.Request, deploymentID string) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	defer func() {
		r.hub.Unregister(deploymentID, client)
		client.Close()
	}()
	if !r.subscribe(req.Context(), deploymentID, client) {
		return
	}
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.metrics.record(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if id, ok := identityFromContext(ctx); ok {
			fields = append(fields, "user_id", id.UserID, "username", id.Username)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		if sr.status == 0 {
			sr.status = http.StatusSwitchingProtocols
		}
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
