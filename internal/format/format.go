// Package format renders news items as posts that fit the 280 character
// limit of the posting service.
package format

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/deusflow/coinrelay/internal/news"
)

const (
	MaxPostRunes  = 280
	maxHeadRunes  = 190
	minTitleRunes = 20
	maxHashtags   = 4
	ellipsis      = "..."
)

var (
	prefixes = []string{"", "📰 ", "⚡️ ", "💡 ", "🚀 ", "🔔 ", "📢 "}
	emojis   = []string{"📉", "📈", "📊", "🧐", "📌", "🔍", "🌐", "🔥", "✨"}
)

// Rand is the randomness the formatter draws from. *rand.Rand satisfies it.
type Rand interface {
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

type Formatter struct {
	mu      sync.Mutex
	rnd     Rand
	sources map[string][]string
	general []string
}

// New returns a formatter. sources maps a feed name to its hashtags;
// general is the pool shared by every feed.
func New(sources map[string][]string, general []string, rnd Rand) *Formatter {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Formatter{rnd: rnd, sources: sources, general: general}
}

// Format returns the post text for item, or "" when there is nothing to
// post. The result never exceeds MaxPostRunes code points.
func (f *Formatter) Format(item news.Item) string {
	title := strings.TrimSpace(item.TranslatedTitle)
	if title == "" {
		title = strings.TrimSpace(item.OriginalTitle)
	}
	if title == "" || item.Link == "" {
		return ""
	}

	f.mu.Lock()
	tags := f.hashtags(item.Source)
	prefix := prefixes[f.rnd.Intn(len(prefixes))]
	emoji := emojis[f.rnd.Intn(len(emojis))]
	f.mu.Unlock()

	p := post{prefix: prefix, emoji: emoji, link: item.Link, tags: tags, title: []rune(title)}
	p.softCap()

	text := p.render()
	for runeLen(text) > MaxPostRunes {
		over := runeLen(text) - MaxPostRunes
		switch {
		case len(p.tags) > 1:
			p.tags = p.tags[:len(p.tags)-1]
		case !p.shrinkTitle(over):
			return truncate(text, MaxPostRunes)
		}
		text = p.render()
	}
	return text
}

type post struct {
	prefix    string
	emoji     string
	link      string
	tags      []string
	title     []rune
	shortened bool
}

func (p *post) head() string {
	t := string(p.title)
	if p.shortened {
		t += ellipsis
	}
	return p.prefix + t + " " + p.emoji
}

func (p *post) render() string {
	var b strings.Builder
	b.WriteString(p.head())
	b.WriteString("\n\n")
	b.WriteString(p.link)
	if len(p.tags) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(p.tags, " "))
	}
	return b.String()
}

// softCap keeps the headline within maxHeadRunes.
func (p *post) softCap() {
	over := runeLen(p.head()) - maxHeadRunes
	if over <= 0 {
		return
	}
	keep := len(p.title) - over - utf8.RuneCountInString(ellipsis)
	if keep <= 0 {
		keep = min(10, len(p.title))
	}
	p.cut(keep)
}

// shrinkTitle removes over runes plus some slack from the title, never
// going below minTitleRunes. It reports false when no progress is possible.
func (p *post) shrinkTitle(over int) bool {
	if len(p.title) <= minTitleRunes {
		return false
	}
	keep := len(p.title) - over - 5
	if keep < minTitleRunes {
		keep = minTitleRunes
	}
	p.cut(keep)
	return true
}

func (p *post) cut(keep int) {
	p.title = []rune(strings.TrimRight(string(p.title[:keep]), " "))
	p.shortened = true
}

// hashtags picks 1..2 source tags and 1..3 general tags, removes
// duplicates, samples down to maxHashtags and shuffles. Callers hold f.mu.
func (f *Formatter) hashtags(source string) []string {
	var picked []string
	if pool := f.sources[source]; len(pool) > 0 {
		picked = append(picked, f.sample(pool, 1+f.rnd.Intn(min(2, len(pool))))...)
	}
	if len(f.general) > 0 {
		picked = append(picked, f.sample(f.general, 1+f.rnd.Intn(min(3, len(f.general))))...)
	}

	seen := make(map[string]struct{}, len(picked))
	tags := picked[:0]
	for _, t := range picked {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}

	if len(tags) > maxHashtags {
		tags = f.sample(tags, maxHashtags)
	}
	f.rnd.Shuffle(len(tags), func(i, j int) { tags[i], tags[j] = tags[j], tags[i] })
	return tags
}

// sample returns k distinct elements of pool without modifying it.
func (f *Formatter) sample(pool []string, k int) []string {
	c := append([]string(nil), pool...)
	for i := 0; i < k; i++ {
		j := i + f.rnd.Intn(len(c)-i)
		c[i], c[j] = c[j], c[i]
	}
	return c[:k]
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
