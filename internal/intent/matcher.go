package intent

import (
	"strings"
	"unicode"
)

// Matcher decides whether free-form recognized speech refers to a canonical
// keyword, tolerating transcription noise, punctuation and script variants.
type Matcher struct {
	canonical string
	first     rune
	aliases   *strings.Replacer
	patterns  []string
}

type MatcherOption func(*Matcher)

// WithAliases maps alternate spellings (any script) onto the canonical keyword
// before matching.
func WithAliases(aliases ...string) MatcherOption {
	return func(m *Matcher) {
		pairs := make([]string, 0, len(aliases)*2)
		for _, a := range aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" {
				continue
			}
			pairs = append(pairs, a, m.canonical)
		}
		if len(pairs) > 0 {
			m.aliases = strings.NewReplacer(pairs...)
		}
	}
}

// WithPatterns sets the direct substrings that match without fuzzy scoring.
// The canonical keyword is always included.
func WithPatterns(patterns ...string) MatcherOption {
	return func(m *Matcher) {
		for _, p := range patterns {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" || p == m.canonical {
				continue
			}
			m.patterns = append(m.patterns, p)
		}
	}
}

func NewMatcher(canonical string, opts ...MatcherOption) *Matcher {
	canonical = strings.ToLower(strings.TrimSpace(canonical))
	m := &Matcher{
		canonical: canonical,
		patterns:  []string{canonical},
	}
	for _, r := range canonical {
		m.first = r
		break
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NovaMatcher detects the assistant's name, including the Chinese spellings and
// the mis-transcriptions speech recognizers commonly produce for it.
func NovaMatcher() *Matcher {
	return NewMatcher("nova",
		WithAliases("诺娃", "諾娃", "诺瓦", "諾瓦"),
		WithPatterns("no va", "no-va", "n0va", "nover", "nofa", "nava", "noah"),
	)
}

// Canonical returns the normalized keyword this matcher looks for.
func (m *Matcher) Canonical() string { return m.canonical }

// IsSentencePunct reports whether r is clause punctuation in Latin or CJK
// text. Normalize turns it into spaces; speech output keeps it for pauses.
func IsSentencePunct(r rune) bool {
	switch r {
	case ',', '.', '!', '?', '，', '。', '！', '？', '、':
		return true
	default:
		return false
	}
}

func punctToSpace(r rune) rune {
	if IsSentencePunct(r) {
		return ' '
	}
	return r
}

// Normalize lowercases, folds alias spellings, strips sentence punctuation and
// collapses whitespace.
func (m *Matcher) Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	out := strings.ToLower(raw)
	if m.aliases != nil {
		out = m.aliases.Replace(out)
	}
	return collapseSpaces(strings.Map(punctToSpace, out))
}

func (m *Matcher) Match(raw string) bool {
	if m.canonical == "" {
		return false
	}
	clean := m.Normalize(raw)
	if clean == "" {
		return false
	}
	for _, p := range m.patterns {
		if strings.Contains(clean, p) {
			return true
		}
	}
	for _, token := range strings.Split(clean, " ") {
		if m.tokenMatches(token) {
			return true
		}
	}
	return false
}

func (m *Matcher) tokenMatches(token string) bool {
	simple := lettersOnly(token)
	if simple == "" {
		return false
	}
	if strings.Contains(simple, m.canonical) {
		return true
	}
	d := Levenshtein(simple, m.canonical)
	if d <= 1 {
		return true
	}
	if d == 2 {
		for _, r := range simple {
			return r == m.first
		}
	}
	return false
}

// lettersOnly keeps ASCII a-z; the token is already lowercased.
func lettersOnly(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c >= 'a' && c <= 'z' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		b.WriteRune(r)
		prevSpace = false
	}
	return strings.TrimSpace(b.String())
}

// Levenshtein returns the edit distance between a and b with unit costs for
// insertion, deletion and substitution.
func Levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	m, n := len(ra), len(rb)
	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
		dp[i][0] = i
	}
	for j := 0; j <= n; j++ {
		dp[0][j] = j
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			dp[i][j] = min(
				dp[i-1][j]+1,
				dp[i][j-1]+1,
				dp[i-1][j-1]+cost,
			)
		}
	}
	return dp[m][n]
}
