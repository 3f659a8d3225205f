// Package twitter is a minimal X API client: create a post (v2) and upload
// media (v1.1), signed with OAuth 1.0a user context.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
)

const (
	DefaultAPIBase    = "https://api.twitter.com"
	DefaultUploadBase = "https://upload.twitter.com"

	maxRateLimitRetries = 3
	maxRateLimitWait    = 15 * time.Minute
	maxErrorBody        = 64 << 10
)

// ErrNotConfigured is returned by New when a credential is missing.
var ErrNotConfigured = errors.New("twitter: posting credentials not configured")

type Credentials struct {
	ConsumerKey       string
	ConsumerSecret    string
	AccessToken       string
	AccessTokenSecret string
}

func (c Credentials) complete() bool {
	return c.ConsumerKey != "" && c.ConsumerSecret != "" && c.AccessToken != "" && c.AccessTokenSecret != ""
}

// ErrorEntry is one element of an "errors" array. v1.1 fills Code and
// Message, v2 fills Title and Detail.
type ErrorEntry struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Title   string `json:"title,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// APIError is a non-successful response. Title and Detail come from a v2
// problem document, Errors from an errors array. Body is always the raw
// response; JSON reports whether it decoded.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
	Errors     []ErrorEntry
	Body       string
	JSON       bool
	// DailyCapReached is set when a 429 reports the 24-hour user posting
	// cap as used up (x-user-limit-24hour-remaining: 0).
	DailyCapReached bool
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "twitter api: status %d", e.StatusCode)
	if e.Title != "" {
		b.WriteString(": " + e.Title)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	for _, entry := range e.Errors {
		if entry.Code != 0 {
			fmt.Fprintf(&b, " [%d %s]", entry.Code, entry.Message)
		} else if entry.Message != "" || entry.Detail != "" {
			b.WriteString(" [" + strings.TrimSpace(entry.Message+" "+entry.Detail) + "]")
		}
	}
	if !e.JSON && e.Body != "" {
		b.WriteString(": " + e.Body)
	}
	if e.DailyCapReached {
		b.WriteString(" (24-hour user limit reached)")
	}
	return b.String()
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}

	var doc struct {
		Title  string       `json:"title"`
		Detail string       `json:"detail"`
		Errors []ErrorEntry `json:"errors"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		e.JSON = true
		e.Title = doc.Title
		e.Detail = doc.Detail
		e.Errors = doc.Errors
	}
	return e
}

type Client struct {
	http       *http.Client
	apiBase    string
	uploadBase string
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	log        *slog.Logger
}

type Option func(*Client)

// WithBaseURLs points the client at other hosts, for tests.
func WithBaseURLs(api, upload string) Option {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(api, "/")
		c.uploadBase = strings.TrimRight(upload, "/")
	}
}

// WithSleep replaces the rate limit wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func New(creds Credentials, opts ...Option) (*Client, error) {
	if !creds.complete() {
		return nil, ErrNotConfigured
	}

	config := oauth1.NewConfig(creds.ConsumerKey, creds.ConsumerSecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessTokenSecret)
	base := &http.Client{Timeout: 60 * time.Second}
	httpClient := config.Client(context.WithValue(context.Background(), oauth1.HTTPClient, base), token)

	c := &Client{
		http:       httpClient,
		apiBase:    DefaultAPIBase,
		uploadBase: DefaultUploadBase,
		sleep:      sleepCtx,
		now:        time.Now,
		log:        slog.Default().With("component", "twitter"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreatePost publishes text with optional media and returns the post ID.
func (c *Client) CreatePost(ctx context.Context, text string, mediaIDs []string) (string, error) {
	payload := map[string]interface{}{"text": text}
	if len(mediaIDs) > 0 {
		payload["media"] = map[string]interface{}{"media_ids": mediaIDs}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("error make JSON: %w", err)
	}

	status, respBody, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/2/tweets", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var created struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if status >= 300 || json.Unmarshal(respBody, &created) != nil || created.Data.ID == "" {
		return "", newAPIError(status, respBody)
	}

	c.log.Debug("post created", "id", created.Data.ID)
	return created.Data.ID, nil
}

// UploadMedia uploads the file at path and returns its media ID.
func (c *Client) UploadMedia(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read media: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}
	form := buf.Bytes()

	status, respBody, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadBase+"/1.1/media/upload.json", bytes.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var uploaded struct {
		MediaIDString string `json:"media_id_string"`
	}
	if status >= 300 || json.Unmarshal(respBody, &uploaded) != nil || uploaded.MediaIDString == "" {
		return "", newAPIError(status, respBody)
	}
	return uploaded.MediaIDString, nil
}

// do sends the request built by build. On 429 it waits for the window in
// x-rate-limit-reset and retries up to maxRateLimitRetries times; the final
// 429 is returned as an *APIError.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) (int, []byte, error) {
	for attempt := 0; ; attempt++ {
		req, err := build()
		if err != nil {
			return 0, nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return 0, nil, fmt.Errorf("HTTP error: %w", err)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		if err != nil {
			return 0, nil, fmt.Errorf("error reading response: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp.StatusCode, body, nil
		}
		// the daily cap resets in hours; waiting out the 15-minute window
		// would not help
		if strings.TrimSpace(resp.Header.Get("x-user-limit-24hour-remaining")) == "0" {
			apiErr := newAPIError(resp.StatusCode, body)
			apiErr.DailyCapReached = true
			return 0, nil, apiErr
		}
		if attempt >= maxRateLimitRetries {
			return 0, nil, newAPIError(resp.StatusCode, body)
		}

		wait := c.resetWait(resp.Header.Get("x-rate-limit-reset"))
		c.log.Warn("rate limited, waiting", "wait", wait, "attempt", attempt+1)
		if err := c.sleep(ctx, wait); err != nil {
			return 0, nil, err
		}
	}
}

func (c *Client) resetWait(header string) time.Duration {
	wait := time.Minute
	if sec, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64); err == nil {
		wait = time.Unix(sec, 0).Sub(c.now()) + time.Second
	}
	if wait < time.Second {
		wait = time.Second
	}
	if wait > maxRateLimitWait {
		wait = maxRateLimitWait
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
