package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdex/internal/model"
)

func TestHTTPFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "docdex-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher("docdex-test", 1)
	raw, err := f.Fetch(context.Background(), srv.URL, &Options{FollowRedirects: true})
	require.NoError(t, err)

	assert.Equal(t, model.FetchSuccess, raw.Status)
	assert.Equal(t, "text/html", raw.MimeType)
	assert.Equal(t, "utf-8", raw.Charset)
	assert.Equal(t, `"v1"`, raw.ETag)
	assert.Contains(t, string(raw.Content), "hello")
}

func TestHTTPFetcherConditionalNotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Write([]byte("fresh"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher("", 1)
	raw, err := f.Fetch(context.Background(), srv.URL, &Options{ETag: `"v1"`, FollowRedirects: true})
	require.NoError(t, err)

	assert.Equal(t, model.FetchNotModified, raw.Status)
	assert.Equal(t, `"v1"`, raw.ETag)
	assert.Empty(t, raw.Content)
}

func TestHTTPFetcherNotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewHTTPFetcher("", 1)
	raw, err := f.Fetch(context.Background(), srv.URL+"/gone", &Options{FollowRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, model.FetchNotFound, raw.Status)
}

func TestHTTPFetcherRetriesTransientFailures(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher("", 4)
	raw, err := f.Fetch(context.Background(), srv.URL, &Options{FollowRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "recovered", string(raw.Content))
}

func TestHTTPFetcherClientErrorIsPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("", 4)
	_, err := f.Fetch(context.Background(), srv.URL, &Options{FollowRedirects: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFetch)
	assert.Equal(t, 1, attempts)
}

func TestHTTPFetcherCapturesFinalURLAfterRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved here"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewHTTPFetcher("", 1)
	raw, err := f.Fetch(context.Background(), srv.URL+"/old", &Options{FollowRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/new", raw.Source)
}

func TestHTTPFetcherCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewHTTPFetcher("", 1)
	_, err := f.Fetch(ctx, "http://127.0.0.1:0/", &Options{FollowRedirects: true})
	require.Error(t, err)
	assert.True(t, model.IsCancelled(err))
}

func TestFileFetcherReadsAndTags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.md")
	require.NoError(t, os.WriteFile(path, []byte("# Guide\n"), 0o644))

	f := NewFileFetcher()
	raw, err := f.Fetch(context.Background(), path, nil)
	require.NoError(t, err)

	assert.Equal(t, model.FetchSuccess, raw.Status)
	assert.Equal(t, "text/markdown", raw.MimeType)
	assert.NotEmpty(t, raw.ETag)

	// Same metadata, same etag: a conditional fetch short-circuits.
	again, err := f.Fetch(context.Background(), path, &Options{ETag: raw.ETag})
	require.NoError(t, err)
	assert.Equal(t, model.FetchNotModified, again.Status)
}

func TestFileFetcherMissingFile(t *testing.T) {
	f := NewFileFetcher()
	raw, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "absent.md"), nil)
	require.NoError(t, err)
	assert.Equal(t, model.FetchNotFound, raw.Status)
}

func TestFileFetcherDirectoryListing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.md"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), []byte("x"), 0o644))

	f := NewFileFetcher()
	raw, err := f.Fetch(context.Background(), dir, nil)
	require.NoError(t, err)

	assert.Equal(t, MimeDirectory, raw.MimeType)
	listing := string(raw.Content)
	assert.Contains(t, listing, filepath.Join(dir, "a.md"))
	assert.Contains(t, listing, filepath.Join(dir, "b.md"))
	assert.NotContains(t, listing, ".hidden")
}

func TestAutoFetcherRoutesByScheme(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("local"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote"))
	}))
	defer srv.Close()

	auto := NewAutoFetcher(NewHTTPFetcher("", 1), NewFileFetcher(), nil)

	local, err := auto.Fetch(context.Background(), path, nil)
	require.NoError(t, err)
	assert.Equal(t, "local", string(local.Content))

	remote, err := auto.Fetch(context.Background(), srv.URL, &Options{FollowRedirects: true})
	require.NoError(t, err)
	assert.Equal(t, "remote", string(remote.Content))
}

func TestNeedsRendering(t *testing.T) {
	spa := &model.RawContent{
		MimeType: "text/html",
		Status:   model.FetchSuccess,
		Content:  []byte(`<html><body><div id="root"></div><script src="/app.js"></script></body></html>`),
	}
	assert.True(t, needsRendering(spa))

	noscript := &model.RawContent{
		MimeType: "text/html",
		Status:   model.FetchSuccess,
		Content:  []byte(`<html><body><noscript>Please enable JavaScript to view this site.</noscript><p>` + longText() + `</p></body></html>`),
	}
	assert.True(t, needsRendering(noscript))

	static := &model.RawContent{
		MimeType: "text/html",
		Status:   model.FetchSuccess,
		Content:  []byte(`<html><body><article>` + longText() + `</article></body></html>`),
	}
	assert.False(t, needsRendering(static))

	markdown := &model.RawContent{MimeType: "text/markdown", Status: model.FetchSuccess, Content: []byte("# hi")}
	assert.False(t, needsRendering(markdown))
}

func longText() string {
	out := ""
	for i := 0; i < 40; i++ {
		out += "Substantial server-rendered documentation content. "
	}
	return out
}
