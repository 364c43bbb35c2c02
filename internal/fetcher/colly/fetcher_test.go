package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webman-dev/webman/internal/analyzer"
)

func TestFetch_ReturnsBodyAndMetadata(t *testing.T) {
	t.Parallel()

	var gotUserAgent, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotTrace = r.Header.Get("X-Trace")
		w.Header().Set("X-Frame-Options", "DENY")
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "webman-test/1.0", Timeout: 5 * time.Second})
	resp, err := f.Fetch(context.Background(), analyzer.FetchRequest{
		URL:     srv.URL,
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "ok")
	require.Equal(t, "DENY", resp.Headers.Get("X-Frame-Options"))
	require.Positive(t, resp.Duration)
	require.Equal(t, "webman-test/1.0", gotUserAgent)
	require.Equal(t, "yes", gotTrace)
}

func TestFetch_NonTwoHundredIsAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), analyzer.FetchRequest{URL: srv.URL})
	require.ErrorContains(t, err, "response failed")
}

func TestFetch_UnreachableHost(t *testing.T) {
	t.Parallel()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), analyzer.FetchRequest{URL: "http://127.0.0.1:1"})
	require.Error(t, err)
}

func TestFetch_ConcurrentFetchesAreIndependent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	done := make(chan error, 2)
	for _, path := range []string{"/a", "/b"} {
		go func(p string) {
			resp, err := f.Fetch(context.Background(), analyzer.FetchRequest{URL: srv.URL + p})
			if err == nil && string(resp.Body) != p {
				err = http.ErrBodyNotAllowed
			}
			done <- err
		}(path)
	}
	for range 2 {
		require.NoError(t, <-done)
	}
}
