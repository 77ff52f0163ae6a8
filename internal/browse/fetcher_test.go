package browse

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchParsesPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Hello</title></head><body><p>world</p></body></html>`))
	}))
	defer srv.Close()

	page, err := NewFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, "Hello", page.Title)
	assert.Contains(t, page.Text, "world")
	assert.False(t, page.Truncated)
}

func TestFetchNon2xxPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	page, err := NewFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, page.StatusCode)
	assert.Contains(t, page.Text, "maintenance")
}

func TestFetchByteCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 4096)))
	}))
	defer srv.Close()

	page, err := NewFetcher(WithMaxBytes(1024)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, page.Truncated)
	assert.LessOrEqual(t, len(page.Text), 1024)
}

func TestFetchLinkCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("<html><body>")
		for i := 0; i < 30; i++ {
			fmt.Fprintf(&b, `<a href="/p/%d">p%d</a>`, i, i)
		}
		b.WriteString("</body></html>")
		_, _ = w.Write([]byte(b.String()))
	}))
	defer srv.Close()

	page, err := NewFetcher(WithMaxLinks(5)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Links, 5)
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewFetcher(WithTimeout(50 * time.Millisecond)).Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var fetchErr *FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestFetchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewFetcher().Fetch(context.Background(), url)
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, url, fetchErr.URL)
}

func TestFetchRecordsFinalURLAfterRedirect(t *testing.T) {
	var target *httptest.Server
	target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/final", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("<html><body>done</body></html>"))
	}))
	defer target.Close()

	page, err := NewFetcher().Fetch(context.Background(), target.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, target.URL+"/final", page.URL)
}
