package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nomdn/dress-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) config.GitHubConfig {
	return config.GitHubConfig{
		APIURL:     url,
		Owner:      "Cute-Dress",
		Repo:       "Dress",
		Token:      "secret",
		PerPage:    2,
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
	}
}

func commitPage(n, offset int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"sha": fmt.Sprintf("c%d", offset+i),
			"commit": map[string]any{
				"author": map[string]any{
					"name":  fmt.Sprintf("user%d", offset+i),
					"email": fmt.Sprintf("user%d@example.com", offset+i),
					"date":  "2024-01-02T03:04:05Z",
				},
			},
		}
	}
	return out
}

func TestListCommits_PagesUntilShortPage(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/Cute-Dress/Dress/commits", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "dir/a#1.jpg", r.URL.Query().Get("path"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		n, _ := strconv.Atoi(page)
		size := 2
		if n == 3 {
			size = 1
		}
		_ = json.NewEncoder(w).Encode(commitPage(size, (n-1)*2))
	}))
	defer srv.Close()

	commits, err := New(testConfig(srv.URL)).ListCommits(context.Background(), "dir/a#1.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, pages)
	require.Len(t, commits, 5)
	assert.Equal(t, "c0", commits[0].Hash)
	assert.Equal(t, "user4", commits[4].Author.Name)
	assert.Equal(t, "user4@example.com", commits[4].Author.Email)
	assert.Equal(t, "2024-01-02T03:04:05Z", commits[4].Date)
}

func TestListCommits_EmptyFirstPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	commits, err := New(testConfig(srv.URL)).ListCommits(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestListCommits_NotFoundIsNoHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	commits, err := New(testConfig(srv.URL)).ListCommits(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.Nil(t, commits)
}

func TestListCommits_ForbiddenIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).ListCommits(context.Background(), "a.jpg")
	require.ErrorIs(t, err, ErrPermanent)
	assert.Contains(t, err.Error(), "401")
	assert.EqualValues(t, 1, calls.Load())
}

func TestListCommits_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(commitPage(1, 0))
	}))
	defer srv.Close()

	commits, err := New(testConfig(srv.URL)).ListCommits(context.Background(), "a.jpg")
	require.NoError(t, err)
	assert.Len(t, commits, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestListCommits_NoTokenNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Token = ""
	_, err := New(cfg).ListCommits(context.Background(), "a.jpg")
	require.NoError(t, err)
}

func TestList_DefaultBranchTree(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/Cute-Dress/Dress":
			_, _ = w.Write([]byte(`{"default_branch":"master"}`))
		case "/repos/Cute-Dress/Dress/git/trees/master":
			assert.Equal(t, "1", r.URL.Query().Get("recursive"))
			_, _ = w.Write([]byte(`{"tree":[
				{"path":"z/b.PNG","type":"blob"},
				{"path":"README.md","type":"blob"},
				{"path":"a","type":"tree"},
				{"path":"a/c#1.gif","type":"blob"},
				{"path":"a.jpg","type":"blob"}
			],"truncated":false}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	paths, err := New(testConfig(srv.URL)).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "a/c#1.gif", "z/b.PNG"}, paths)
}

func TestList_MissingRepository(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(testConfig(srv.URL)).List(context.Background())
	require.Error(t, err)
}

func TestClient_SpacesRequests(t *testing.T) {
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamps = append(stamps, time.Now())
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MinInterval = 30 * time.Millisecond
	c := New(cfg)
	for i := 0; i < 3; i++ {
		_, err := c.ListCommits(context.Background(), "a.jpg")
		require.NoError(t, err)
	}
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[0]), 50*time.Millisecond)
}
