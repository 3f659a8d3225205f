// Package scraper finds a representative image for an article page.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/coinrelay/internal/rss"
)

// metaSelectors are tried in order; the first non-empty content wins.
var metaSelectors = []string{
	`meta[property="og:image:secure_url"]`,
	`meta[property="og:image"]`,
	`meta[name="twitter:image:src"]`,
	`meta[name="twitter:image"]`,
	`meta[itemprop="image"]`,
}

// Resolver extracts image URLs from article pages.
type Resolver struct {
	client *http.Client
	log    *slog.Logger
}

func NewResolver() *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: 20 * time.Second},
		log:    slog.Default().With("component", "scraper"),
	}
}

// Resolve returns an absolute image URL for pageURL. Any network or parse
// failure is logged and reported as absent.
func (r *Resolver) Resolve(ctx context.Context, pageURL string) (string, bool) {
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		r.log.Debug("invalid page url", "url", pageURL)
		return "", false
	}

	doc, err := r.fetch(ctx, pageURL)
	if err != nil {
		r.log.Warn("image lookup failed", "url", pageURL, "error", err)
		return "", false
	}

	for _, candidate := range candidates(doc, base.Host) {
		if abs, ok := absolute(base, candidate); ok {
			return abs, true
		}
	}

	r.log.Debug("no image found", "url", pageURL)
	return "", false
}

func (r *Resolver) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", rss.BrowserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error loading page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing HTML: %w", err)
	}
	return doc, nil
}

// candidates lists image sources in priority order: meta tags first, then
// the site's own header image.
func candidates(doc *goquery.Document, host string) []string {
	var out []string
	for _, sel := range metaSelectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	}

	for _, sel := range siteSelectors(host) {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if v, ok := s.Attr("src"); ok && strings.TrimSpace(v) != "" {
				out = append(out, strings.TrimSpace(v))
				return false
			}
			return true
		})
	}
	return out
}

func siteSelectors(host string) []string {
	host = strings.ToLower(host)
	switch {
	case strings.Contains(host, "cointelegraph.com"):
		return []string{"img.post-cover__image", "img.article__header-image"}
	case strings.Contains(host, "coindesk.com"):
		return []string{"img.hero__image-img", "img.Box-sc-1hpkeeg-0", "img.magnifier-image", "img.wp-post-image"}
	default:
		return nil
	}
}

func absolute(base *url.URL, raw string) (string, bool) {
	if strings.HasPrefix(strings.ToLower(raw), "data:") {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
