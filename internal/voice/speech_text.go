package voice

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/ent0n29/novavoice/internal/intent"
)

type speechRewrite struct {
	pattern *regexp.Regexp
	repl    string
}

// speechRewrites run in order. Markup goes first, then the readings that
// check-in replies use for vitals and doses.
var speechRewrites = []speechRewrite{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^\s*(?:[-*+]|\d+[.)])\s+`), ""},
	{regexp.MustCompile(`\b(\d{2,3})\s*/\s*(\d{2,3})\b`), "$1 over $2"},
	{regexp.MustCompile(`(\d)\s*mmHg\b`), "$1"},
	{regexp.MustCompile(`(\d)\s*°\s*C\b`), "$1 degrees Celsius"},
	{regexp.MustCompile(`(\d)\s*°\s*F\b`), "$1 degrees Fahrenheit"},
	{regexp.MustCompile(`(\d)\s*mg\b`), "$1 milligrams"},
	{regexp.MustCompile(`(?i)(\d)\s*bpm\b`), "$1 beats per minute"},
	{regexp.MustCompile(`(\d)\s*%`), "$1 percent"},
	{regexp.MustCompile(`\s&\s`), " and "},
}

// speakableText rewrites a reply for synthesis. The caller keeps the original
// for display.
func speakableText(raw string) string {
	out := strings.TrimSpace(raw)
	if out == "" {
		return ""
	}
	for _, rw := range speechRewrites {
		out = rw.pattern.ReplaceAllString(out, rw.repl)
	}

	var b strings.Builder
	b.Grow(len(out))
	pendingSpace := false
	for _, r := range out {
		if !speakableRune(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// speakableRune drops emoji, markdown symbols, controls and joiners. Anything
// dropped becomes a word break.
func speakableRune(r rune) bool {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r):
		return true
	case unicode.Is(unicode.Variation_Selector, r):
		return false
	case unicode.Is(unicode.Mn, r):
		return true
	case intent.IsSentencePunct(r):
		return true
	}
	return strings.ContainsRune(`'"-():;`, r)
}
