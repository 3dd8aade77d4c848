package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/splax/templatehub/internal/domain"
	"github.com/splax/templatehub/pkg/jwt"
)

type authContextKey string

const contextKeyAuth authContextKey = "templatehub-identity"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid session token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureAuth validates the session token and stores the identity in the
// context. Browsers cannot set headers on websocket or EventSource requests,
// so streaming routes also accept an access_token query parameter.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, bool) {
	token, err := bearerToken(req.Header.Get("Authorization"))
	if err != nil && isStreamPath(req.URL.Path) {
		if q := strings.TrimSpace(req.URL.Query().Get("access_token")); q != "" {
			token, err = q, nil
		}
	}
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return req.Context(), false
	}
	claims, err := jwt.Parse(token, r.jwtSecret)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return req.Context(), false
	}
	id := domain.Identity{UserID: claims.UserID, Username: claims.Username, TokenHandle: claims.GitHubToken}
	if id.UserID == "" {
		id.UserID = claims.Subject
	}
	if id.UserID == "" || id.Username == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return req.Context(), false
	}
	return context.WithValue(req.Context(), contextKeyAuth, id), true
}

// identityFromContext extracts the caller identity from context.
func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(contextKeyAuth).(domain.Identity)
	return id, ok
}

func isStreamPath(path string) bool {
	return strings.HasSuffix(path, "/stream") || strings.HasSuffix(path, "/events")
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
