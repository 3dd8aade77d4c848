package hosting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/splax/templatehub/internal/retry"
)

type fakeGitHub struct {
	mu           sync.Mutex
	repos        map[string]bool
	forkVisible  int // GETs of the fork before it appears; -1 never
	forkGets     int
	forkRequests int
	renames      []string
	pagesStatus  int
	pagesBody    map[string]any
	auth         []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{repos: map[string]bool{}, pagesStatus: http.StatusCreated}
}

func (f *fakeGitHub) handler(forkTarget string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.auth = append(f.auth, r.Header.Get("Authorization"))
		path := strings.TrimPrefix(r.URL.Path, "/repos/")
		switch {
		case r.Method == http.MethodGet:
			if path == forkTarget && f.forkRequests > 0 {
				f.forkGets++
				if f.forkVisible >= 0 && f.forkGets > f.forkVisible {
					f.repos[path] = true
				}
			}
			if !f.repos[path] {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"message":"Not Found"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"full_name": path, "clone_url": "https://github.com/" + path + ".git"})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/forks"):
			f.forkRequests++
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodPatch:
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			name, _ := body["name"].(string)
			f.renames = append(f.renames, path+"->"+name)
			owner := strings.Split(path, "/")[0]
			delete(f.repos, path)
			f.repos[owner+"/"+name] = true
			_ = json.NewEncoder(w).Encode(map[string]any{"full_name": owner + "/" + name})
		case r.Method == http.MethodPost && strings.HasSuffix(path, "/pages"):
			_ = json.NewDecoder(r.Body).Decode(&f.pagesBody)
			w.WriteHeader(f.pagesStatus)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func newTestClient(t *testing.T, server *httptest.Server, attempts int) *Client {
	t.Helper()
	client, err := New(Options{
		APIURL:   server.URL,
		ForkPoll: retry.Policy{MaxAttempts: attempts, Interval: time.Millisecond},
	})
	require.NoError(t, err)
	return client
}

func TestGetRepoNotFoundIsNotAnError(t *testing.T) {
	fake := newFakeGitHub()
	server := httptest.NewServer(fake.handler(""))
	defer server.Close()

	lookup, err := newTestClient(t, server, 3).Session("tok").GetRepo(context.Background(), "octocat", "missing")
	require.NoError(t, err)
	require.False(t, lookup.Found)
	require.Equal(t, "Bearer tok", fake.auth[0])
}

func TestEnsureForkSkipsExisting(t *testing.T) {
	fake := newFakeGitHub()
	fake.repos["octocat/portfolio"] = true
	server := httptest.NewServer(fake.handler("octocat/portfolio"))
	defer server.Close()

	err := newTestClient(t, server, 3).Session("tok").EnsureFork(context.Background(), "acme", "portfolio", "octocat")
	require.NoError(t, err)
	require.Zero(t, fake.forkRequests)
}

func TestEnsureForkPollsUntilVisible(t *testing.T) {
	fake := newFakeGitHub()
	fake.forkVisible = 2
	server := httptest.NewServer(fake.handler("octocat/portfolio"))
	defer server.Close()

	err := newTestClient(t, server, 5).Session("tok").EnsureFork(context.Background(), "acme", "portfolio", "octocat")
	require.NoError(t, err)
	require.Equal(t, 1, fake.forkRequests)
	require.Equal(t, 3, fake.forkGets)
}

func TestEnsureForkGivesUpAfterPolicy(t *testing.T) {
	fake := newFakeGitHub()
	fake.forkVisible = -1
	server := httptest.NewServer(fake.handler("octocat/portfolio"))
	defer server.Close()

	err := newTestClient(t, server, 4).Session("tok").EnsureFork(context.Background(), "acme", "portfolio", "octocat")
	require.ErrorIs(t, err, ErrForkNotReady)
	require.Equal(t, 4, fake.forkGets)
}

func TestRenameRepo(t *testing.T) {
	fake := newFakeGitHub()
	fake.repos["octocat/portfolio"] = true
	server := httptest.NewServer(fake.handler(""))
	defer server.Close()

	session := newTestClient(t, server, 3).Session("tok")
	require.NoError(t, session.RenameRepo(context.Background(), "octocat", "portfolio", "my-site"))
	require.NoError(t, session.RenameRepo(context.Background(), "octocat", "my-site", "my-site"))
	require.Equal(t, []string{"octocat/portfolio->my-site"}, fake.renames)
}

func TestEnableHostingSiteTreatsConflictAsSuccess(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusConflict} {
		fake := newFakeGitHub()
		fake.pagesStatus = status
		server := httptest.NewServer(fake.handler(""))

		err := newTestClient(t, server, 3).Session("tok").EnableHostingSite(context.Background(), "octocat", "my-site", "gh-pages", "/")
		server.Close()
		require.NoError(t, err, "status %d", status)
		source, _ := fake.pagesBody["source"].(map[string]any)
		require.Equal(t, "gh-pages", source["branch"])
	}
}

func TestEnableHostingSiteFailsOnServerError(t *testing.T) {
	fake := newFakeGitHub()
	fake.pagesStatus = http.StatusUnprocessableEntity
	server := httptest.NewServer(fake.handler(""))
	defer server.Close()

	err := newTestClient(t, server, 3).Session("tok").EnableHostingSite(context.Background(), "octocat", "my-site", "gh-pages", "/")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnauthorized))
}

func TestURLHelpers(t *testing.T) {
	client, err := New(Options{})
	require.NoError(t, err)
	require.Equal(t, "https://github.com/Octocat/site", client.RepoURL("Octocat", "site"))
	require.Equal(t, "https://github.com/Octocat/site.git", client.CloneURL("Octocat", "site"))
	require.Equal(t, "https://octocat.github.io/site/", client.PagesURL("Octocat", "site"))
}
