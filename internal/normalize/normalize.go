// Package normalize cleans raw feed titles into plain text that is safe to
// translate and post.
package normalize

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Unknown replaces letters and digits the transliterator cannot map.
const Unknown = '?'

var (
	strict = bluemonday.StrictPolicy()

	punctuation = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`,
		"«", `"`, "»", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'",
		"–", "-", "—", "-", "‒", "-", "―", "-", "−", "-",
		"…", "...",
		"\u00a0", " ", "\u2009", " ", "\u202f", " ",
	)

	disallowed = regexp.MustCompile(`[^\p{L}\p{N}_\s.,!?$%&'():/\-]`)

	// letters that survive NFKD without an ASCII base
	letterTable = map[rune]string{
		'ı': "i", 'İ': "I", 'ß': "ss", 'ẞ': "SS",
		'æ': "ae", 'Æ': "AE", 'ø': "o", 'Ø': "O",
		'œ': "oe", 'Œ': "OE", 'ł': "l", 'Ł': "L",
		'đ': "d", 'Đ': "D", 'ð': "d", 'Ð': "D",
		'þ': "th", 'Þ': "Th", 'ŋ': "ng", 'Ŋ': "Ng",
	}

	stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// Text returns the cleaned form of raw, or "" when nothing usable is left.
// Callers discard items whose title normalizes to "".
func Text(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text := unescape(raw)
	text = unescape(strict.Sanitize(text))

	text = norm.NFC.String(punctuation.Replace(text))

	if t, ok := transliterate(text); ok {
		text = t
	}

	text = disallowed.ReplaceAllString(text, " ")

	// a lone "&" is judged only after symbols are gone and spaces collapsed
	words := strings.Fields(text)
	for i, w := range words {
		if w == "&" {
			words[i] = "and"
		}
	}
	return strings.Join(words, " ")
}

// unescape decodes entities until the text stops changing, which unwraps
// double-encoded feeds such as "&amp;amp;".
func unescape(s string) string {
	for i := 0; i < 4; i++ {
		next := html.UnescapeString(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

// transliterate maps text to ASCII. It reports false when more than half of
// the letters and digits would be replaced by Unknown, in which case the
// caller keeps the original script.
func transliterate(s string) (string, bool) {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		return s, false
	}

	var (
		b       strings.Builder
		total   int
		unknown int
	)
	b.Grow(len(folded))

	for _, r := range folded {
		switch {
		case r <= unicode.MaxASCII:
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				total++
			}
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			total++
			if repl, ok := letterTable[r]; ok {
				b.WriteString(repl)
				continue
			}
			unknown++
			b.WriteRune(Unknown)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		default:
			// symbols and emoji carry no text
			b.WriteByte(' ')
		}
	}

	if total > 0 && unknown*2 > total {
		return s, false
	}
	return b.String(), true
}
