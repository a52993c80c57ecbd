package intent

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TargetCall is the client page token for the call screen.
const TargetCall = "call"

// Predicate reports whether recognized text triggers a rule.
type Predicate interface {
	Match(text string) bool
}

type PredicateFunc func(text string) bool

func (f PredicateFunc) Match(text string) bool { return f(text) }

// Rule maps a predicate over recognized text to a navigation target.
type Rule struct {
	Name      string
	Target    string
	Predicate Predicate
}

// Decision is the navigation outcome for one utterance.
type Decision struct {
	ShouldNavigate bool
	Target         string
	Rule           string
}

// Router evaluates rules in order; the first match wins.
type Router struct {
	rules []Rule
}

func NewRouter(rules ...Rule) *Router {
	kept := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Predicate == nil || strings.TrimSpace(r.Target) == "" {
			continue
		}
		kept = append(kept, r)
	}
	return &Router{rules: kept}
}

func (r *Router) Route(text string) Decision {
	if r == nil {
		return Decision{}
	}
	for _, rule := range r.rules {
		if rule.Predicate.Match(text) {
			return Decision{ShouldNavigate: true, Target: rule.Target, Rule: rule.Name}
		}
	}
	return Decision{}
}

// Rules returns a copy of the configured table.
func (r *Router) Rules() []Rule {
	if r == nil {
		return nil
	}
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

var plainNormalizer = NewMatcher("")

// Contains matches when the normalized text contains substr.
func Contains(substr string) Predicate {
	needle := plainNormalizer.Normalize(substr)
	return PredicateFunc(func(text string) bool {
		if needle == "" {
			return false
		}
		return strings.Contains(plainNormalizer.Normalize(text), needle)
	})
}

// Fuzzy matches with a keyword Matcher.
func Fuzzy(m *Matcher) Predicate {
	return PredicateFunc(m.Match)
}

// DefaultRules is the built-in navigation table. The fuzzy nova keyword is not
// part of it: at distance two it also accepts "no", "not" and "now", which are
// ordinary check-in answers. Deployments can add it through a rules file.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "contact_anna", Target: TargetCall, Predicate: Contains("anna")},
	}
}

// NovaRule is the opt-in fuzzy keyword rule for the call screen.
func NovaRule() Rule {
	return Rule{Name: "keyword_nova", Target: TargetCall, Predicate: Fuzzy(NovaMatcher())}
}

type ruleFile struct {
	Rules []ruleSpec `yaml:"rules"`
}

type ruleSpec struct {
	Name     string   `yaml:"name"`
	Match    string   `yaml:"match"`
	Value    string   `yaml:"value"`
	Target   string   `yaml:"target"`
	Aliases  []string `yaml:"aliases"`
	Patterns []string `yaml:"patterns"`
}

var ErrInvalidRule = errors.New("invalid navigation rule")

// LoadRules reads an ordered rule table from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, spec := range f.Rules {
		value := strings.TrimSpace(spec.Value)
		target := strings.TrimSpace(spec.Target)
		if value == "" || target == "" {
			return nil, fmt.Errorf("%w: rule %d needs value and target", ErrInvalidRule, i)
		}
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			name = fmt.Sprintf("rule_%d", i)
		}

		var pred Predicate
		switch strings.ToLower(strings.TrimSpace(spec.Match)) {
		case "", "contains":
			pred = Contains(value)
		case "fuzzy":
			pred = Fuzzy(NewMatcher(value, WithAliases(spec.Aliases...), WithPatterns(spec.Patterns...)))
		default:
			return nil, fmt.Errorf("%w: rule %q has unknown match %q", ErrInvalidRule, name, spec.Match)
		}
		rules = append(rules, Rule{Name: name, Target: target, Predicate: pred})
	}
	return rules, nil
}
