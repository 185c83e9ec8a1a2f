package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"gotest.tools/v3/assert"
)

func TestTitleFetcher(t *testing.T) {
	long := strings.Repeat("é", 300)

	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!doctype html><html><head>
			<svg><title>icon</title></svg>
			<title>
				The   Go
				Programming Language
			</title></head><body>hi</body></html>`)
	})
	mux.HandleFunc("/og", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><meta property="og:title" content="From OpenGraph"></head></html>`)
	})
	mux.HandleFunc("/long", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<title>%s</title>`, long)
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"title":"nope"}`)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := NewTitleFetcher(200 * time.Millisecond)
	ctx := context.Background()

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "collapses whitespace and skips svg titles", path: "/page", want: "The Go Programming Language"},
		{name: "og:title fallback", path: "/og", want: "From OpenGraph"},
		{name: "non html falls back to url", path: "/json", want: srv.URL + "/json"},
		{name: "error status falls back to url", path: "/missing", want: srv.URL + "/missing"},
		{name: "timeout falls back to url", path: "/slow", want: srv.URL + "/slow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, f.Title(ctx, srv.URL+tt.path), tt.want)
		})
	}

	t.Run("truncated to 255 characters", func(t *testing.T) {
		got := f.Title(ctx, srv.URL+"/long")
		assert.Equal(t, utf8.RuneCountInString(got), 255)
		assert.Assert(t, strings.HasPrefix(long, got))
	})
}
