package publisher

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/coinrelay/internal/metrics"
	"github.com/deusflow/coinrelay/internal/news"
	"github.com/deusflow/coinrelay/internal/storage"
	"github.com/deusflow/coinrelay/internal/twitter"
)

type memStore struct {
	mu        sync.Mutex
	links     map[string]string
	existsErr error
	lookups   int
}

func newMemStore() *memStore { return &memStore{links: map[string]string{}} }

func (m *memStore) Exists(_ context.Context, link string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.links[link]
	return ok, nil
}

func (m *memStore) Record(ctx context.Context, title, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.links[link]; !ok {
		m.links[link] = title
	}
	return nil
}

func (m *memStore) Count(context.Context) (int, error) { return len(m.links), nil }

func (m *memStore) Recent(context.Context, int) ([]storage.PostedRecord, error) { return nil, nil }

func (m *memStore) Close() error { return nil }

type fakePoster struct {
	id        string
	err       error
	uploadErr error
	posts     []string
	media     [][]string
	uploads   []string
	uploaded  [][]byte
	onPost    func()
}

func (f *fakePoster) CreatePost(_ context.Context, text string, mediaIDs []string) (string, error) {
	if f.onPost != nil {
		f.onPost()
	}
	f.posts = append(f.posts, text)
	f.media = append(f.media, mediaIDs)
	return f.id, f.err
}

func (f *fakePoster) UploadMedia(_ context.Context, path string) (string, error) {
	f.uploads = append(f.uploads, path)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	f.uploaded = append(f.uploaded, data)
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	return "media-1", nil
}

type staticFormatter string

func (s staticFormatter) Format(news.Item) string { return string(s) }

type staticResolver struct {
	url string
}

func (s staticResolver) Resolve(context.Context, string) (string, bool) {
	return s.url, s.url != ""
}

var testItem = news.Item{
	Source:          "CoinDesk",
	OriginalTitle:   "Bitcoin hits record",
	TranslatedTitle: "Bitcoin rekor kırdı",
	Link:            "https://www.coindesk.com/markets/record",
}

func TestPublish_Posted(t *testing.T) {
	store := newMemStore()
	poster := &fakePoster{id: "123"}
	m := metrics.New()

	res := New(store, poster, staticFormatter("post text"), WithMetrics(m)).Publish(context.Background(), testItem)

	assert.Equal(t, Posted, res.Outcome)
	assert.Equal(t, "123", res.PostID)
	assert.Equal(t, []string{"post text"}, poster.posts)
	assert.Equal(t, "Bitcoin hits record", store.links[testItem.Link])
	assert.Equal(t, int64(1), m.Posted)
}

func TestPublish_RecordsAcceptedPostDuringShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store, err := storage.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "tweets.db"))
	require.NoError(t, err)
	defer store.Close()
	poster := &fakePoster{id: "123", onPost: cancel}

	res := New(store, poster, staticFormatter("post text")).Publish(ctx, testItem)

	assert.Equal(t, Posted, res.Outcome)
	exists, err := store.Exists(context.Background(), testItem.Link)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPublish_RemoteDuplicateRecordedAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newMemStore()
	poster := &fakePoster{
		err:    &twitter.APIError{StatusCode: 403, JSON: true, Errors: []twitter.ErrorEntry{{Code: 187, Message: "Status is a duplicate."}}},
		onPost: cancel,
	}

	res := New(store, poster, staticFormatter("post text")).Publish(ctx, testItem)

	assert.Equal(t, SkippedDuplicate, res.Outcome)
	assert.Contains(t, store.links, testItem.Link)
}

func TestPublish_AlreadyRecordedMakesNoNetworkCall(t *testing.T) {
	store := newMemStore()
	store.links[testItem.Link] = "old"
	poster := &fakePoster{id: "123"}

	res := New(store, poster, staticFormatter("text")).Publish(context.Background(), testItem)

	assert.Equal(t, SkippedDuplicate, res.Outcome)
	assert.Empty(t, poster.posts)
}

func TestPublish_LookupErrorTreatedAsPosted(t *testing.T) {
	store := newMemStore()
	store.existsErr = errors.New("disk I/O error")
	poster := &fakePoster{id: "123"}

	res := New(store, poster, staticFormatter("text")).Publish(context.Background(), testItem)

	assert.Equal(t, SkippedDuplicate, res.Outcome)
	assert.Error(t, res.Err)
	assert.Empty(t, poster.posts)
}

func TestPublish_SecondAttemptIsDuplicate(t *testing.T) {
	store := newMemStore()
	poster := &fakePoster{id: "1"}
	p := New(store, poster, staticFormatter("text"))

	assert.Equal(t, Posted, p.Publish(context.Background(), testItem).Outcome)
	assert.Equal(t, SkippedDuplicate, p.Publish(context.Background(), testItem).Outcome)
	assert.Len(t, poster.posts, 1)
}

func TestPublish_EmptyText(t *testing.T) {
	poster := &fakePoster{id: "1"}

	res := New(newMemStore(), poster, staticFormatter("")).Publish(context.Background(), testItem)

	assert.Equal(t, SkippedError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrEmptyPost)
	assert.Empty(t, poster.posts)
}

func TestPublish_NotReady(t *testing.T) {
	p := New(newMemStore(), nil, staticFormatter("text"))

	assert.False(t, p.Ready())
	res := p.Publish(context.Background(), testItem)
	assert.Equal(t, SkippedError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNoPoster)
}

func TestPublish_RemoteClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     Outcome
		recorded bool
	}{
		{
			name:     "remote duplicate",
			err:      &twitter.APIError{StatusCode: 403, JSON: true, Title: "Forbidden", Detail: "You are not allowed to create a Tweet with duplicate content."},
			want:     SkippedDuplicate,
			recorded: true,
		},
		{
			name: "daily quota",
			err:  &twitter.APIError{StatusCode: 403, JSON: true, Errors: []twitter.ErrorEntry{{Code: 185, Message: "User is over daily status update limit."}}},
			want: RateLimited,
		},
		{
			name:     "forbidden",
			err:      &twitter.APIError{StatusCode: 403, JSON: true, Title: "Forbidden", Detail: "You are not permitted to perform this action."},
			want:     SkippedError,
			recorded: true,
		},
		{
			name: "server error",
			err:  &twitter.APIError{StatusCode: 503, Body: "upstream unavailable"},
			want: SkippedError,
		},
		{
			name: "network error",
			err:  errors.New("dial tcp: connection refused"),
			want: SkippedError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			res := New(store, &fakePoster{err: tt.err}, staticFormatter("text")).Publish(context.Background(), testItem)

			assert.Equal(t, tt.want, res.Outcome)
			_, recorded := store.links[testItem.Link]
			assert.Equal(t, tt.recorded, recorded)
		})
	}
}

func TestPublish_ImageAttachedAndTempFileRemoved(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{1}, 512)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	dir := t.TempDir()
	poster := &fakePoster{id: "9"}
	m := metrics.New()
	p := New(newMemStore(), poster, staticFormatter("text"),
		WithImages(staticResolver{url: srv.URL + "/cover.png"}), WithTempDir(dir), WithMetrics(m))

	res := p.Publish(context.Background(), testItem)

	assert.Equal(t, Posted, res.Outcome)
	assert.True(t, res.ImageAttached)
	require.Len(t, poster.uploads, 1)
	assert.Equal(t, ".png", filepath.Ext(poster.uploads[0]))
	assert.Equal(t, png, poster.uploaded[0])
	assert.Equal(t, []string{"media-1"}, poster.media[0])
	assert.Equal(t, int64(1), m.ImagesAttached)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublish_OversizedImagePostsTextOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(make([]byte, MaxImageBytes+1024))
	}))
	defer srv.Close()

	dir := t.TempDir()
	poster := &fakePoster{id: "9"}
	p := New(newMemStore(), poster, staticFormatter("text"),
		WithImages(staticResolver{url: srv.URL + "/huge.jpg"}), WithTempDir(dir))

	res := p.Publish(context.Background(), testItem)

	assert.Equal(t, Posted, res.Outcome)
	assert.False(t, res.ImageAttached)
	assert.Empty(t, poster.uploads)
	assert.Nil(t, poster.media[0])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublish_UploadFailurePostsTextOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/gif")
		_, _ = w.Write([]byte("GIF89a"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	poster := &fakePoster{id: "9", uploadErr: errors.New("media type unrecognized")}
	p := New(newMemStore(), poster, staticFormatter("text"),
		WithImages(staticResolver{url: srv.URL}), WithTempDir(dir))

	res := p.Publish(context.Background(), testItem)

	assert.Equal(t, Posted, res.Outcome)
	assert.False(t, res.ImageAttached)
	require.Len(t, poster.uploads, 1)
	assert.Equal(t, ".gif", filepath.Ext(poster.uploads[0]))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPublish_ImageHTTPErrorPostsTextOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	poster := &fakePoster{id: "9"}
	p := New(newMemStore(), poster, staticFormatter("text"),
		WithImages(staticResolver{url: srv.URL}), WithTempDir(t.TempDir()))

	assert.Equal(t, Posted, p.Publish(context.Background(), testItem).Outcome)
	assert.Empty(t, poster.uploads)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"image/png":                ".png",
		"image/jpeg":               ".jpg",
		"image/gif":                ".gif",
		"image/webp; charset=x":    ".webp",
		"application/octet-stream": ".jpg",
		"":                         ".jpg",
	}
	for in, want := range cases {
		assert.Equal(t, want, extension(in), in)
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "posted", Posted.String())
	assert.Equal(t, "skipped_duplicate", SkippedDuplicate.String())
	assert.Equal(t, "skipped_error", SkippedError.String())
	assert.Equal(t, "rate_limited", RateLimited.String())
}
