// Package config loads process settings from flags, environment variables
// and an optional .env file, and the feed sources from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// X (Twitter) OAuth 1.0a user context
	ConsumerKey       string `long:"consumer-key" env:"CONSUMER_KEY" description:"X API consumer key"`
	ConsumerSecret    string `long:"consumer-secret" env:"CONSUMER_SECRET" description:"X API consumer secret"`
	AccessToken       string `long:"access-token" env:"ACCESS_TOKEN" description:"X API access token"`
	AccessTokenSecret string `long:"access-token-secret" env:"ACCESS_TOKEN_SECRET" description:"X API access token secret"`

	// Translation
	TargetLang        string `long:"target-lang" env:"TARGET_LANG" default:"tr" description:"Language posts are translated into"`
	GeminiAPIKey      string `long:"gemini-api-key" env:"GEMINI_API_KEY" description:"Enables the Gemini fallback translator"`
	MaxGeminiRequests int    `long:"max-gemini-requests" env:"MAX_GEMINI_REQUESTS" default:"200" description:"Daily Gemini request budget (0 = unlimited)"`

	// Storage
	StoreDriver string `long:"store-driver" env:"STORE_DRIVER" default:"sqlite" choice:"sqlite" choice:"postgres" choice:"file" description:"Deduplication store backend"`
	DBPath      string `long:"db-path" env:"DB_PATH" default:"tweets.db" description:"SQLite database file"`
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"PostgreSQL connection string"`
	FilePath    string `long:"file-path" env:"CACHE_FILE_PATH" default:"posted.json" description:"JSON store file"`

	// Scheduling
	SourcesFile      string `long:"sources-file" env:"SOURCES_FILE" default:"configs/sources.yaml" description:"Feeds and hashtag pools (built-in defaults when missing)"`
	MaxPostsPerCycle int    `long:"max-posts-per-cycle" env:"MAX_POSTS_PER_CYCLE" default:"2" description:"Successful posts before re-polling feeds"`
	ManualStart      bool   `long:"manual-start" env:"MANUAL_START" description:"Wait for /start_bot_manual instead of starting at boot"`
	Waits            Waits  `group:"Wait bands" namespace:"wait" env-namespace:"WAIT"`

	// HTTP
	Port string `long:"port" env:"PORT" default:"10000" description:"HTTP port for status endpoints"`

	Debug bool `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Waits holds the cool-down bands of the scheduling loop. A wait is picked
// uniformly from [Min, Max].
type Waits struct {
	PostedMin      time.Duration `long:"posted-min" env:"POSTED_MIN" default:"45m"`
	PostedMax      time.Duration `long:"posted-max" env:"POSTED_MAX" default:"80m"`
	SkippedMin     time.Duration `long:"skipped-min" env:"SKIPPED_MIN" default:"5m"`
	SkippedMax     time.Duration `long:"skipped-max" env:"SKIPPED_MAX" default:"10m"`
	NoNewsMin      time.Duration `long:"no-news-min" env:"NO_NEWS_MIN" default:"55m"`
	NoNewsMax      time.Duration `long:"no-news-max" env:"NO_NEWS_MAX" default:"75m"`
	CriticalMin    time.Duration `long:"critical-min" env:"CRITICAL_MIN" default:"60m"`
	CriticalMax    time.Duration `long:"critical-max" env:"CRITICAL_MAX" default:"100m"`
	RateLimitedMin time.Duration `long:"rate-limited-min" env:"RATE_LIMITED_MIN" default:"2h"`
	RateLimitedMax time.Duration `long:"rate-limited-max" env:"RATE_LIMITED_MAX" default:"3h"`
}

// Band is an inclusive wait range.
type Band struct {
	Min time.Duration
	Max time.Duration
}

func (w Waits) Posted() Band      { return Band{w.PostedMin, w.PostedMax} }
func (w Waits) Skipped() Band     { return Band{w.SkippedMin, w.SkippedMax} }
func (w Waits) NoNews() Band      { return Band{w.NoNewsMin, w.NoNewsMax} }
func (w Waits) Critical() Band    { return Band{w.CriticalMin, w.CriticalMax} }
func (w Waits) RateLimited() Band { return Band{w.RateLimitedMin, w.RateLimitedMax} }

// DefaultWaits returns the production cool-down bands.
func DefaultWaits() Waits {
	return Waits{
		PostedMin: 45 * time.Minute, PostedMax: 80 * time.Minute,
		SkippedMin: 5 * time.Minute, SkippedMax: 10 * time.Minute,
		NoNewsMin: 55 * time.Minute, NoNewsMax: 75 * time.Minute,
		CriticalMin: 60 * time.Minute, CriticalMax: 100 * time.Minute,
		RateLimitedMin: 2 * time.Hour, RateLimitedMax: 3 * time.Hour,
	}
}

// ErrHelp is returned when --help was requested.
var ErrHelp = errors.New("help requested")

// Load reads .env (if present), then flags and environment variables.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.TargetLang == "" {
		return fmt.Errorf("TARGET_LANG is required")
	}
	if c.MaxPostsPerCycle < 1 {
		return fmt.Errorf("MAX_POSTS_PER_CYCLE must be at least 1")
	}
	switch c.StoreDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "file":
		if c.FilePath == "" {
			return fmt.Errorf("CACHE_FILE_PATH is required for the file store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	for name, b := range map[string]Band{
		"posted":       c.Waits.Posted(),
		"skipped":      c.Waits.Skipped(),
		"no-news":      c.Waits.NoNews(),
		"critical":     c.Waits.Critical(),
		"rate-limited": c.Waits.RateLimited(),
	} {
		if b.Min < 0 || b.Max < b.Min {
			return fmt.Errorf("wait band %s: min %s must be >= 0 and <= max %s", name, b.Min, b.Max)
		}
	}
	return nil
}

// Feed is one configured RSS source.
type Feed struct {
	Name     string   `yaml:"name"`
	URL      string   `yaml:"url"`
	Hashtags []string `yaml:"hashtags"`
}

// Sources is the YAML sources file.
//
//	feeds:
//	  - name: CoinDesk
//	    url: https://www.coindesk.com/arc/outboundfeeds/rss/
//	    hashtags: ["#CoinDesk"]
//	general_hashtags: ["#Bitcoin"]
type Sources struct {
	Feeds           []Feed   `yaml:"feeds"`
	GeneralHashtags []string `yaml:"general_hashtags"`
	EntriesPerFeed  int      `yaml:"entries_per_feed"`
}

func DefaultSources() Sources {
	return Sources{
		Feeds: []Feed{
			{
				Name:     "CoinDesk",
				URL:      "https://www.coindesk.com/arc/outboundfeeds/rss/",
				Hashtags: []string{"#CoinDesk", "#KriptoHaber", "#KriptoPara"},
			},
			{
				Name:     "Cointelegraph",
				URL:      "https://cointelegraph.com/rss",
				Hashtags: []string{"#Cointelegraph", "#BlockchainHaberleri", "#Kripto"},
			},
		},
		GeneralHashtags: []string{"#Bitcoin", "#BTC", "#Kripto", "#Ekonomi", "#Finans", "#Yatırım", "#Teknoloji", "#Altcoin"},
		EntriesPerFeed:  7,
	}
}

// LoadSources reads the sources file at path. A missing file yields the
// built-in defaults; missing sections fall back individually.
func LoadSources(path string) (Sources, error) {
	defaults := DefaultSources()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return Sources{}, err
	}
	defer f.Close()

	var src Sources
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil {
		return Sources{}, fmt.Errorf("decode %s: %w", path, err)
	}

	if len(src.Feeds) == 0 {
		src.Feeds = defaults.Feeds
	}
	if len(src.GeneralHashtags) == 0 {
		src.GeneralHashtags = defaults.GeneralHashtags
	}
	if src.EntriesPerFeed <= 0 {
		src.EntriesPerFeed = defaults.EntriesPerFeed
	}

	for i, feed := range src.Feeds {
		if feed.Name == "" || feed.URL == "" {
			return Sources{}, fmt.Errorf("feed #%d: name and url are required", i+1)
		}
	}
	return src, nil
}

// HashtagPools maps feed name to its hashtags.
func (s Sources) HashtagPools() map[string][]string {
	pools := make(map[string][]string, len(s.Feeds))
	for _, f := range s.Feeds {
		pools[f.Name] = f.Hashtags
	}
	return pools
}
