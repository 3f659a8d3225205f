// Package news turns configured feeds into translated candidate items.
package news

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/deusflow/coinrelay/internal/config"
	"github.com/deusflow/coinrelay/internal/metrics"
	"github.com/deusflow/coinrelay/internal/normalize"
	"github.com/deusflow/coinrelay/internal/rss"
)

// Item is one article ready to be formatted and published.
type Item struct {
	Source          string
	OriginalTitle   string // normalized, original language
	TranslatedTitle string
	Link            string // canonical, the dedup key
	PublishedAt     time.Time
}

// FeedSource fetches the entries of a single feed.
type FeedSource interface {
	Fetch(ctx context.Context, feedURL string) ([]rss.Entry, error)
}

// Translator never fails; it returns its input when no translation is
// available.
type Translator interface {
	Translate(ctx context.Context, text string) string
}

// PostedChecker reports whether a link was already published.
type PostedChecker interface {
	Exists(ctx context.Context, link string) (bool, error)
}

type Collector struct {
	feeds      []config.Feed
	perFeed    int
	source     FeedSource
	translator Translator
	posted     PostedChecker
	metrics    *metrics.Metrics
	now        func() time.Time
	log        *slog.Logger
}

type Option func(*Collector)

// WithPostedFilter drops links the checker already knows before they are
// translated. A lookup error drops the entry for this poll.
func WithPostedFilter(pc PostedChecker) Option {
	return func(c *Collector) { c.posted = pc }
}

func NewCollector(sources config.Sources, source FeedSource, translator Translator, m *metrics.Metrics, opts ...Option) *Collector {
	c := &Collector{
		feeds:      sources.Feeds,
		perFeed:    sources.EntriesPerFeed,
		source:     source,
		translator: translator,
		metrics:    m,
		now:        time.Now,
		log:        slog.Default().With("component", "news"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect polls every feed and returns candidates newest first. A failing
// feed is logged and skipped. Titles that normalize to nothing are dropped.
func (c *Collector) Collect(ctx context.Context) []Item {
	var items []Item
	seen := make(map[string]struct{})

	for _, feed := range c.feeds {
		if ctx.Err() != nil {
			break
		}

		entries, err := c.source.Fetch(ctx, feed.URL)
		if err != nil {
			c.log.Warn("feed fetch failed", "feed", feed.Name, "error", err)
			continue
		}
		if c.perFeed > 0 && len(entries) > c.perFeed {
			entries = entries[:c.perFeed]
		}
		if c.metrics != nil {
			c.metrics.AddItemsFetched(len(entries))
		}

		for _, e := range entries {
			item, ok := c.build(feed.Name, e)
			if !ok {
				continue
			}
			if _, dup := seen[item.Link]; dup {
				continue
			}
			seen[item.Link] = struct{}{}
			if c.alreadyPosted(ctx, item.Link) {
				continue
			}
			items = append(items, c.translate(ctx, item))
		}
		c.log.Debug("feed collected", "feed", feed.Name, "entries", len(entries))
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.After(items[j].PublishedAt)
	})

	c.log.Info("collected candidates", "count", len(items))
	return items
}

func (c *Collector) build(source string, e rss.Entry) (Item, bool) {
	title := normalize.Text(e.Title)
	if title == "" {
		c.log.Debug("dropping entry with empty title", "link", e.Link)
		return Item{}, false
	}

	link := rss.CanonicalLink(e.Link)
	if link == "" {
		return Item{}, false
	}

	published := c.now()
	if e.Published != nil {
		published = *e.Published
	}

	return Item{
		Source:        source,
		OriginalTitle: title,
		Link:          link,
		PublishedAt:   published,
	}, true
}

func (c *Collector) alreadyPosted(ctx context.Context, link string) bool {
	if c.posted == nil {
		return false
	}
	exists, err := c.posted.Exists(ctx, link)
	if err != nil {
		c.log.Warn("store lookup failed, skipping entry", "link", link, "error", err)
		return true
	}
	return exists
}

func (c *Collector) translate(ctx context.Context, item Item) Item {
	item.TranslatedTitle = c.translator.Translate(ctx, item.OriginalTitle)
	if item.TranslatedTitle == "" {
		item.TranslatedTitle = item.OriginalTitle
	}
	return item
}
