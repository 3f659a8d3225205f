package gemini

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/deusflow/coinrelay/internal/ratelimit"
)

const defaultModel = "gemini-1.5-flash"

var languageNames = map[string]string{
	"tr": "Turkish",
	"en": "English",
	"de": "German",
	"es": "Spanish",
	"uk": "Ukrainian",
	"da": "Danish",
}

// Client is a headline translation backend on top of Gemini.
type Client struct {
	client   *genai.Client
	generate func(ctx context.Context, prompt string) (string, error)
	budget   *ratelimit.DailyBudget
}

func NewClient(ctx context.Context, apiKey string, budget *ratelimit.DailyBudget) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is empty")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(defaultModel)
	model.SetTemperature(0.2)

	c := &Client{client: client, budget: budget}
	c.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", errors.New("empty response from Gemini")
		}

		var b strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		return b.String(), nil
	}
	return c, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Client) Name() string { return "gemini" }

// Translate asks the model for a plain translation of a news headline.
func (c *Client) Translate(ctx context.Context, text, targetLang string) (string, error) {
	if c.budget != nil {
		if err := c.budget.Use(); err != nil {
			return "", err
		}
	}

	lang, ok := languageNames[targetLang]
	if !ok {
		lang = targetLang
	}

	prompt := fmt.Sprintf(`Translate the following cryptocurrency news headline to %s.
Keep ticker symbols, brand and company names unchanged.
Reply with the translated headline only, without quotes or comments.

Headline: %s`, lang, text)

	out, err := c.generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return SanitizeAIText(out), nil
}

var (
	bracketNote = regexp.MustCompile(`(?i)[\[(]\s*(note|translation|translator'?s? note)\b[^\])]*[\])]`)
	labelPrefix = regexp.MustCompile(`(?i)^\s*(translation|headline|translated headline)\s*:\s*`)
)

// SanitizeAIText removes the disclaimers and labels models tend to wrap
// around a translation.
func SanitizeAIText(s string) string {
	s = bracketNote.ReplaceAllString(s, " ")

	var kept []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "note:") {
			continue
		}
		kept = append(kept, labelPrefix.ReplaceAllString(line, ""))
	}

	out := strings.Join(strings.Fields(strings.Join(kept, " ")), " ")
	out = strings.Trim(out, `"'“”«»`)
	return strings.TrimSpace(out)
}
