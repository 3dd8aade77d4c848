package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/splax/templatehub/internal/domain"
)

func sampleDeployment() *domain.Deployment {
	d := domain.NewDeployment("dep-1", "u1", "octocat", "portfolio", "site", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	d.AppendLog("forking template", d.CreatedAt)
	return d
}

func TestNotifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/hooks/deploy" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if token := r.Header.Get("X-Callback-Token"); token != "secret" {
			t.Fatalf("unexpected token header %s", token)
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if ev.DeploymentID != "dep-1" || ev.Status != domain.StatusInit {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.Message != "forking template" {
			t.Fatalf("expected latest log line as message, got %q", ev.Message)
		}
		if ev.OccurredAt != "2024-01-02T03:04:05Z" {
			t.Fatalf("unexpected occurred_at %q", ev.OccurredAt)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cb, err := NewCallback(srv.URL+"/hooks/deploy", " secret ", nil)
	if err != nil {
		t.Fatalf("new callback: %v", err)
	}
	if err := cb.Notify(context.Background(), sampleDeployment()); err != nil {
		t.Fatalf("notify: %v", err)
	}
}

func TestNotifyErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusBadRequest, ErrInvalidArgument},
		{http.StatusNotFound, ErrNotFound},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		cb, err := NewCallback(srv.URL, "", &http.Client{Timeout: time.Second})
		if err != nil {
			t.Fatalf("new callback: %v", err)
		}
		err = cb.Notify(context.Background(), sampleDeployment())
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Fatalf("status %d: expected %v, got %v", tt.status, tt.want, err)
		}
	}
}

func TestNewCallbackRequiresURL(t *testing.T) {
	if _, err := NewCallback("  ", "", nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
}
