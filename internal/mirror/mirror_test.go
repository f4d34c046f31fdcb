package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nomdn/dress-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	masterDoc = `{"1":["a.jpg",[["X","x@example.com"]],"2024-02-01T00:00:00Z"],"4":["c#1.gif",[["Z","z@example.com"]]]}`
	authorDoc = `{"X":[{"path":"a.jpg","latest_commit_time":"2024-02-01T00:00:00Z"}],"Z":["c#1.gif"]}`
)

func testConfig(bases ...string) config.MirrorConfig {
	return config.MirrorConfig{
		BaseURLs: bases,
		Path:     "gh/nomdn/dress-api@main/public/",
		Timeout:  200 * time.Millisecond,
	}
}

// serving answers the published pair under the mirror path and counts requests.
func serving(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/gh/nomdn/dress-api@main/public/index_0.json":
			_, _ = w.Write([]byte(masterDoc))
		case "/gh/nomdn/dress-api@main/public/index_1.json":
			_, _ = w.Write([]byte(authorDoc))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failing(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestURL(t *testing.T) {
	f := New(testConfig())
	assert.Equal(t, "https://cdn.jsdelivr.net/gh/nomdn/dress-api@main/public/index_0.json",
		f.URL("https://cdn.jsdelivr.net/", "index_0.json"))
	assert.Equal(t, "https://fastly.jsdelivr.net/gh/nomdn/dress-api@main/public/index_1.json",
		f.URL("https://fastly.jsdelivr.net", "index_1.json"))

	bare := New(config.MirrorConfig{})
	assert.Equal(t, "http://m/index_0.json", bare.URL("http://m/", "index_0.json"))
}

func TestFetch_FallsThroughFailedMirror(t *testing.T) {
	var bad, good atomic.Int32
	first := failing(t, http.StatusInternalServerError, &bad)
	second := serving(t, &good)

	f := New(testConfig(first.URL, second.URL))
	body, err := f.Fetch(context.Background(), "index_0.json")
	require.NoError(t, err)
	assert.JSONEq(t, masterDoc, string(body))
	assert.Equal(t, int32(1), bad.Load())
	assert.Equal(t, int32(1), good.Load())
}

func TestFetch_FallsThroughHungMirror(t *testing.T) {
	release := make(chan struct{})
	hung := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(hung.Close)
	t.Cleanup(func() { close(release) })
	var good atomic.Int32
	second := serving(t, &good)

	f := New(testConfig(hung.URL, second.URL))
	start := time.Now()
	body, err := f.Fetch(context.Background(), "index_1.json")
	require.NoError(t, err)
	assert.JSONEq(t, authorDoc, string(body))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetch_SkipsNonJSONBody(t *testing.T) {
	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>captive portal</html>"))
	}))
	t.Cleanup(html.Close)
	var good atomic.Int32
	second := serving(t, &good)

	f := New(testConfig(html.URL, second.URL))
	_, err := f.Fetch(context.Background(), "index_0.json")
	require.NoError(t, err)
	assert.Equal(t, int32(1), good.Load())
}

func TestFetch_AllMirrorsFail(t *testing.T) {
	var a, b atomic.Int32
	first := failing(t, http.StatusBadGateway, &a)
	second := failing(t, http.StatusNotFound, &b)

	f := New(testConfig(first.URL, second.URL))
	_, err := f.Fetch(context.Background(), "index_0.json")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "index_0.json")
	assert.Equal(t, int32(1), a.Load())
	assert.Equal(t, int32(1), b.Load())
}

func TestFetch_NoMirrors(t *testing.T) {
	_, err := New(testConfig()).Fetch(context.Background(), "index_0.json")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFetch_CancelledStopsFallthrough(t *testing.T) {
	var a, b atomic.Int32
	first := failing(t, http.StatusInternalServerError, &a)
	second := serving(t, &b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(first.URL, second.URL)).Fetch(ctx, "index_0.json")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), b.Load())
}

func TestFetchSnapshot_DecodesAndEscapes(t *testing.T) {
	var bad, good atomic.Int32
	first := failing(t, http.StatusServiceUnavailable, &bad)
	second := serving(t, &good)

	snap, err := New(testConfig(first.URL, second.URL)).FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	assert.Equal(t, []int{1, 4}, snap.Master.Keys())
	assert.Equal(t, "a.jpg", snap.Master[1].Path)
	assert.Equal(t, "c%231.gif", snap.Master[4].Path)
	require.NotNil(t, snap.Master[1].LatestModified)
	assert.Equal(t, []string{"X", "Z"}, snap.Authors.Names())
	assert.Equal(t, "c%231.gif", snap.Authors["Z"][0].Path)
	assert.False(t, snap.BuiltAt.IsZero())
	assert.Equal(t, int32(2), bad.Load())
}
