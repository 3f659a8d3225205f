package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deusflow/coinrelay/internal/cache"
	"github.com/deusflow/coinrelay/internal/retry"
)

// MaxInputRunes is the longest text submitted to a backend. The public
// Google endpoint rejects larger payloads without documenting the limit.
const MaxInputRunes = 4500

// Backend is one translation service.
type Backend interface {
	Name() string
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// Adapter tries each backend in order and falls back to the input text.
type Adapter struct {
	backends  []Backend
	target    string
	cache     *cache.Cache
	onFailure func()
	log       *slog.Logger
}

type Option func(*Adapter)

// WithCache memoizes successful translations.
func WithCache(c *cache.Cache) Option {
	return func(a *Adapter) { a.cache = c }
}

// WithFailureHook is called every time the adapter returns the input
// unchanged.
func WithFailureHook(fn func()) Option {
	return func(a *Adapter) { a.onFailure = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.log = l }
}

func NewAdapter(targetLang string, backends []Backend, opts ...Option) *Adapter {
	a := &Adapter{
		backends: backends,
		target:   targetLang,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Translate never fails: on any backend error or empty result it returns
// text unchanged.
func (a *Adapter) Translate(ctx context.Context, text string) string {
	if text == "" {
		return ""
	}

	input := truncateRunes(text, MaxInputRunes)

	if a.cache != nil {
		if hit, ok := a.cache.Get(a.target, input); ok {
			return hit
		}
	}

	for _, b := range a.backends {
		out, err := b.Translate(ctx, input, a.target)
		out = strings.Join(strings.Fields(out), " ")
		if err == nil && out != "" {
			a.log.Debug("translated", "backend", b.Name(), "lang", a.target)
			if a.cache != nil {
				a.cache.Put(a.target, input, out)
			}
			return out
		}
		if err == nil {
			err = errors.New("empty translation")
		}
		a.log.Warn("translation backend failed", "backend", b.Name(), "lang", a.target, "error", err)
	}

	if a.onFailure != nil {
		a.onFailure()
	}
	return text
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

const googleEndpoint = "https://translate.googleapis.com/translate_a/single"

// Google uses the public gtx endpoint.
type Google struct {
	client  *http.Client
	baseURL string
	retry   retry.RetryConfig
}

func NewGoogle() *Google {
	return &Google{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: googleEndpoint,
		retry:   retry.RetryConfig{MaxAttempts: 2, Delay: 2 * time.Second},
	}
}

func (g *Google) Name() string { return "google" }

func (g *Google) Translate(ctx context.Context, text, targetLang string) (string, error) {
	var result string
	err := retry.WithRetry(ctx, g.retry, func() error {
		out, err := g.translateOnce(ctx, text, targetLang)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	return result, err
}

func (g *Google) translateOnce(ctx context.Context, text, targetLang string) (string, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", "auto")
	params.Set("tl", targetLang)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("build request: %w", err))
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP error: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("google translate returned status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading response: %w", err)
	}

	translation, err := parseGoogleResponse(body)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("error parsing response: %w", err))
	}
	return translation, nil
}

// parseGoogleResponse joins the translated segments of a gtx response,
// which is a nested array whose first element lists [translated, source, ...].
func parseGoogleResponse(body []byte) (string, error) {
	var response []interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", err
	}

	if len(response) == 0 {
		return "", errors.New("empty response from Google Translate")
	}

	segments, ok := response[0].([]interface{})
	if !ok {
		return "", errors.New("unexpected response format")
	}

	var result strings.Builder
	for _, segment := range segments {
		if parts, ok := segment.([]interface{}); ok && len(parts) > 0 {
			if translated, ok := parts[0].(string); ok {
				result.WriteString(translated)
			}
		}
	}

	return result.String(), nil
}
