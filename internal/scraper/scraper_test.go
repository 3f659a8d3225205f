package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolve_MetaPriority(t *testing.T) {
	srv := serve(t, `<html><head>
		<meta name="twitter:image" content="https://cdn.test/twitter.png">
		<meta property="og:image" content="https://cdn.test/og.png">
		<meta property="og:image:secure_url" content="">
	</head><body></body></html>`)

	got, ok := NewResolver().Resolve(context.Background(), srv.URL+"/article")

	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/og.png", got)
}

func TestResolve_RelativeURL(t *testing.T) {
	srv := serve(t, `<html><head><meta itemprop="image" content="/img/cover.jpg"></head></html>`)

	got, ok := NewResolver().Resolve(context.Background(), srv.URL+"/news/story")

	require.True(t, ok)
	assert.Equal(t, srv.URL+"/img/cover.jpg", got)
}

func TestResolve_DataURIRejected(t *testing.T) {
	srv := serve(t, `<html><head><meta property="og:image" content="data:image/png;base64,AAAA"></head></html>`)

	_, ok := NewResolver().Resolve(context.Background(), srv.URL)
	assert.False(t, ok)
}

func TestResolve_NoImage(t *testing.T) {
	srv := serve(t, `<html><body><p>text only</p></body></html>`)

	_, ok := NewResolver().Resolve(context.Background(), srv.URL)
	assert.False(t, ok)
}

func TestResolve_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, ok := NewResolver().Resolve(context.Background(), srv.URL)
	assert.False(t, ok)
}

func TestResolve_InvalidURL(t *testing.T) {
	_, ok := NewResolver().Resolve(context.Background(), "not a url")
	assert.False(t, ok)
}

func TestCandidates_SiteSelectors(t *testing.T) {
	tests := []struct {
		name string
		host string
		html string
		want []string
	}{
		{
			name: "cointelegraph header image",
			host: "cointelegraph.com",
			html: `<img class="logo" src="/logo.svg"><img class="post-cover__image" src="https://images.cointelegraph.com/cover.jpg">`,
			want: []string{"https://images.cointelegraph.com/cover.jpg"},
		},
		{
			name: "coindesk hero image",
			host: "www.coindesk.com",
			html: `<img class="hero__image-img" src="/resizer/hero.jpg">`,
			want: []string{"/resizer/hero.jpg"},
		},
		{
			name: "meta before site image",
			host: "www.coindesk.com",
			html: `<meta property="og:image" content="https://cdn.test/og.png"><img class="wp-post-image" src="/wp.jpg">`,
			want: []string{"https://cdn.test/og.png", "/wp.jpg"},
		},
		{
			name: "unknown site ignores img tags",
			host: "example.com",
			html: `<img class="post-cover__image" src="/cover.jpg">`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, candidates(doc, tt.host))
		})
	}
}
