package policy

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

const (
	markEmail = "[EMAIL]"
	markPhone = "[PHONE]"
	markDate  = "[DATE]"
	markID    = "[ID]"
	markName  = "[NAME]"
)

const monthNames = `january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|sept|oct|nov|dec`

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Numeric dates run before phone numbers, which would otherwise swallow them.
	numericDatePattern = regexp.MustCompile(`\b(?:\d{4}-\d{1,2}-\d{1,2}|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4})\b`)
	spokenDatePattern  = regexp.MustCompile(`(?i)\b(?:\d{1,2}(?:st|nd|rd|th)?(?:\s+of)?\s+(?:` + monthNames + `)\.?,?\s+\d{4}|(?:` + monthNames + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`)
	idPattern          = regexp.MustCompile(`\b\d{9,}\b`)
	phonePattern       = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	profileLinePattern = regexp.MustCompile(`(?im)^\s*(?:preferred\s+|first\s+|last\s+|full\s+)?name\s*[:=]\s*(.+?)\s*$`)
)

var (
	nameKeys = map[string]bool{
		"name": true, "firstname": true, "lastname": true, "fullname": true,
		"preferredname": true, "nickname": true, "surname": true, "givenname": true,
	}
	birthKeys = map[string]bool{
		"dob": true, "dateofbirth": true, "birthdate": true, "birthday": true,
	}
)

// Redactor masks personal details in recognized and generated text before it
// is logged. A zero Redactor only applies the generic patterns.
type Redactor struct {
	names *regexp.Regexp
	dates []string
}

// ForProfile builds a Redactor that also masks the names and birth date found
// in a user profile. The profile may be a JSON object or "Name: ..." lines.
func ForProfile(profile string) *Redactor {
	var names, dates []string
	var doc any
	if err := json.Unmarshal([]byte(profile), &doc); err == nil {
		collectProfile(doc, "", &names, &dates)
	} else {
		for _, m := range profileLinePattern.FindAllStringSubmatch(profile, -1) {
			names = append(names, m[1])
		}
	}

	r := &Redactor{}
	var tokens []string
	seen := make(map[string]bool)
	for _, name := range names {
		for _, tok := range strings.Fields(name) {
			tok = strings.Trim(tok, ".,;:'\"()")
			key := strings.ToLower(tok)
			if len([]rune(tok)) < 2 || seen[key] {
				continue
			}
			seen[key] = true
			tokens = append(tokens, regexp.QuoteMeta(tok))
		}
	}
	if len(tokens) > 0 {
		// Longest first so "Annabelle" wins over "Anna".
		sort.Slice(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
		r.names = regexp.MustCompile(`(?i)\b(?:` + strings.Join(tokens, "|") + `)\b`)
	}
	for _, d := range dates {
		if d = strings.TrimSpace(d); d != "" {
			r.dates = append(r.dates, d)
		}
	}
	return r
}

func collectProfile(v any, key string, names, dates *[]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			collectProfile(child, normalizeKey(k), names, dates)
		}
	case []any:
		for _, child := range t {
			collectProfile(child, key, names, dates)
		}
	case string:
		switch {
		case nameKeys[key]:
			*names = append(*names, t)
		case birthKeys[key]:
			*dates = append(*dates, t)
		}
	}
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

// Redact returns the masked text and whether anything was replaced.
func (r *Redactor) Redact(input string) (string, bool) {
	out := input
	if r != nil {
		for _, d := range r.dates {
			out = strings.ReplaceAll(out, d, markDate)
		}
	}
	out = emailPattern.ReplaceAllString(out, markEmail)
	out = numericDatePattern.ReplaceAllString(out, markDate)
	out = spokenDatePattern.ReplaceAllString(out, markDate)
	out = idPattern.ReplaceAllString(out, markID)
	out = phonePattern.ReplaceAllString(out, markPhone)
	if r != nil && r.names != nil {
		out = r.names.ReplaceAllString(out, markName)
	}
	return out, out != input
}

// Redact applies the generic patterns only.
func Redact(input string) (string, bool) {
	return (*Redactor)(nil).Redact(input)
}
