// Package publisher posts one news item at most once and classifies the
// result for the scheduler.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/deusflow/coinrelay/internal/metrics"
	"github.com/deusflow/coinrelay/internal/news"
	"github.com/deusflow/coinrelay/internal/rss"
	"github.com/deusflow/coinrelay/internal/storage"
)

// MaxImageBytes is the largest image that is uploaded.
const MaxImageBytes = 5 << 20

// recordTimeout bounds a store write that outlives the caller's context.
const recordTimeout = 10 * time.Second

var (
	ErrNoPoster  = errors.New("posting client not configured")
	ErrEmptyPost = errors.New("formatter produced empty text")
)

type Outcome int

const (
	Posted Outcome = iota
	SkippedDuplicate
	SkippedError
	RateLimited
)

func (o Outcome) String() string {
	switch o {
	case Posted:
		return "posted"
	case SkippedDuplicate:
		return "skipped_duplicate"
	case RateLimited:
		return "rate_limited"
	default:
		return "skipped_error"
	}
}

type Result struct {
	Outcome       Outcome
	PostID        string
	ImageAttached bool
	Class         Class
	Err           error
}

// Poster is the posting service.
type Poster interface {
	CreatePost(ctx context.Context, text string, mediaIDs []string) (string, error)
	UploadMedia(ctx context.Context, path string) (string, error)
}

type ImageResolver interface {
	Resolve(ctx context.Context, pageURL string) (string, bool)
}

type Formatter interface {
	Format(item news.Item) string
}

type Publisher struct {
	store     storage.Store
	poster    Poster
	formatter Formatter
	images    ImageResolver
	metrics   *metrics.Metrics
	download  *http.Client
	tempDir   string
	log       *slog.Logger
}

type Option func(*Publisher)

// WithImages enables image attachment.
func WithImages(r ImageResolver) Option {
	return func(p *Publisher) { p.images = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithTempDir sets where downloaded images are staged.
func WithTempDir(dir string) Option {
	return func(p *Publisher) { p.tempDir = dir }
}

// New builds a publisher. poster may be nil when credentials are missing;
// Ready then reports false and Publish skips every item.
func New(store storage.Store, poster Poster, formatter Formatter, opts ...Option) *Publisher {
	p := &Publisher{
		store:     store,
		poster:    poster,
		formatter: formatter,
		download:  &http.Client{Timeout: 30 * time.Second},
		log:       slog.Default().With("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ready reports whether a posting client is available.
func (p *Publisher) Ready() bool { return p.poster != nil }

// Publish runs the publish-once sequence for item. A record is written only
// after a confirmed post, a remote duplicate or a remote forbidden.
func (p *Publisher) Publish(ctx context.Context, item news.Item) Result {
	res := p.publish(ctx, item)
	if p.metrics != nil {
		p.metrics.RecordOutcome(res.Outcome.String())
		if res.Outcome == Posted && res.ImageAttached {
			p.metrics.IncrementImagesAttached()
		}
		if res.Err != nil && res.Outcome != SkippedDuplicate {
			p.metrics.SetError(res.Err.Error())
		}
	}
	return res
}

func (p *Publisher) publish(ctx context.Context, item news.Item) Result {
	log := p.log.With("link", item.Link)

	if p.poster == nil || p.store == nil {
		return Result{Outcome: SkippedError, Err: ErrNoPoster}
	}

	exists, err := p.store.Exists(ctx, item.Link)
	if err != nil {
		log.Error("store lookup failed, treating as posted", "error", err)
		return Result{Outcome: SkippedDuplicate, Err: err}
	}
	if exists {
		log.Debug("already posted")
		return Result{Outcome: SkippedDuplicate}
	}

	text := p.formatter.Format(item)
	if text == "" {
		log.Warn("empty post text")
		return Result{Outcome: SkippedError, Err: ErrEmptyPost}
	}

	var mediaIDs []string
	if id := p.attachImage(ctx, item.Link, log); id != "" {
		mediaIDs = []string{id}
	}

	postID, err := p.poster.CreatePost(ctx, text, mediaIDs)
	if err == nil && postID != "" {
		log.Info("posted", "id", postID, "image", len(mediaIDs) > 0)
		p.record(ctx, item, log)
		return Result{Outcome: Posted, PostID: postID, ImageAttached: len(mediaIDs) > 0}
	}
	if err == nil {
		err = errors.New("post created without an id")
	}

	class, rule := classify(err)
	log = log.With("class", class.String(), "rule", rule, "error", err)

	switch class {
	case ClassDuplicate:
		log.Info("remote reports duplicate, recording")
		p.record(ctx, item, log)
		return Result{Outcome: SkippedDuplicate, Class: class, Err: err}
	case ClassQuota:
		log.Warn("daily posting quota reached")
		return Result{Outcome: RateLimited, Class: class, Err: err}
	case ClassForbidden:
		log.Warn("post forbidden, recording to avoid retrying")
		p.record(ctx, item, log)
		return Result{Outcome: SkippedError, Class: class, Err: err}
	default:
		log.Error("post failed")
		return Result{Outcome: SkippedError, Class: class, Err: err}
	}
}

// record ignores cancellation of ctx so an answered post is stored even
// during shutdown.
func (p *Publisher) record(ctx context.Context, item news.Item, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.store.Record(ctx, item.OriginalTitle, item.Link); err != nil {
		log.Error("failed to record posted link", "error", err)
	}
}

// attachImage resolves, downloads and uploads the article image. Any
// failure returns "" and the post goes out as text only.
func (p *Publisher) attachImage(ctx context.Context, pageURL string, log *slog.Logger) string {
	if p.images == nil {
		return ""
	}
	imageURL, ok := p.images.Resolve(ctx, pageURL)
	if !ok {
		log.Debug("no image, posting text only")
		return ""
	}

	path, err := p.downloadImage(ctx, imageURL)
	if err != nil {
		log.Warn("image download failed, posting text only", "image", imageURL, "error", err)
		return ""
	}
	defer os.Remove(path)

	id, err := p.poster.UploadMedia(ctx, path)
	if err != nil {
		log.Warn("media upload failed, posting text only", "image", imageURL, "error", err)
		return ""
	}
	return id
}

// downloadImage stages the image in a temp file and returns its path. The
// file is removed here on error; on success the caller removes it.
func (p *Publisher) downloadImage(ctx context.Context, imageURL string) (path string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", rss.BrowserUserAgent)

	resp, err := p.download.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	f, err := os.CreateTemp(p.tempDir, "coinrelay-media-*"+extension(resp.Header.Get("Content-Type")))
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(f.Name())
		}
	}()

	n, err := io.Copy(f, io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return "", err
	}
	if n > MaxImageBytes {
		return "", fmt.Errorf("image larger than %d bytes", MaxImageBytes)
	}
	return f.Name(), nil
}

func extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(contentType)
	}
	switch {
	case strings.Contains(mediaType, "png"):
		return ".png"
	case strings.Contains(mediaType, "gif"):
		return ".gif"
	case strings.Contains(mediaType, "webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}
