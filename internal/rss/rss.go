package rss

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/deusflow/coinrelay/internal/retry"
)

// BrowserUserAgent is sent with feed and page requests; several publishers
// serve empty or blocked responses to library user agents.
const BrowserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Entry is one raw article reference from a feed.
type Entry struct {
	Title     string
	Link      string
	Published *time.Time
}

// Fetcher downloads and parses feeds.
type Fetcher struct {
	parser  *gofeed.Parser
	timeout time.Duration
	retry   retry.RetryConfig
}

func NewFetcher() *Fetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = BrowserUserAgent
	parser.Client = &http.Client{Timeout: 30 * time.Second}

	return &Fetcher{
		parser:  parser,
		timeout: 45 * time.Second,
		retry:   retry.RetryConfig{MaxAttempts: 2, Delay: 3 * time.Second},
	}
}

// Fetch returns the valid entries of the feed at feedURL. Entries without
// a title or link are dropped.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var feed *gofeed.Feed
	err := retry.WithRetry(ctx, f.retry, func() error {
		parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			var httpErr gofeed.HTTPError
			if errors.As(err, &httpErr) && httpErr.StatusCode < 500 {
				return retry.Permanent(err)
			}
			return err
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for i, item := range feed.Items {
		if item == nil || strings.TrimSpace(item.Title) == "" || strings.TrimSpace(item.Link) == "" {
			slog.Debug("skipping feed entry without title or link", "feed", feedURL, "index", i)
			continue
		}

		e := Entry{Title: item.Title, Link: strings.TrimSpace(item.Link)}
		switch {
		case item.PublishedParsed != nil:
			e.Published = item.PublishedParsed
		case item.UpdatedParsed != nil:
			e.Published = item.UpdatedParsed
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// CanonicalLink strips the query string and fragment so tracking
// parameters do not defeat deduplication.
func CanonicalLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}

	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		if i := strings.IndexAny(link, "?#"); i >= 0 {
			link = link[:i]
		}
		return link
	}

	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
