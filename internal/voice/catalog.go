package voice

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSupportedVoices is used when SUPPORTED_VOICES is unset. Entries of the
// form id=providerVoice expose a product name backed by a provider voice.
const DefaultSupportedVoices = "alloy,echo,shimmer,synthex=alloy,mechaX=echo,ioncore=onyx"

var ErrEmptyCatalog = errors.New("no supported voices configured")

// VoiceOption is one selectable voice.
type VoiceOption struct {
	ID            string `json:"id"`
	ProviderVoice string `json:"providerVoice"`
}

// Catalog is the immutable set of voices callers may request.
type Catalog struct {
	options      []VoiceOption
	byID         map[string]string
	defaultVoice string
}

// ParseCatalog reads a comma separated voice list. defaultVoice must be one of
// the ids; when empty the first entry is the default.
func ParseCatalog(spec, defaultVoice string) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]string)}
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, provider, found := strings.Cut(raw, "=")
		id = strings.TrimSpace(id)
		provider = strings.TrimSpace(provider)
		if !found {
			provider = id
		}
		if id == "" || provider == "" {
			return nil, fmt.Errorf("invalid voice entry %q", raw)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("duplicate voice %q", id)
		}
		c.byID[id] = provider
		c.options = append(c.options, VoiceOption{ID: id, ProviderVoice: provider})
	}
	if len(c.options) == 0 {
		return nil, ErrEmptyCatalog
	}

	defaultVoice = strings.TrimSpace(defaultVoice)
	if defaultVoice == "" {
		defaultVoice = c.options[0].ID
	}
	if _, ok := c.byID[defaultVoice]; !ok {
		return nil, fmt.Errorf("default voice %q is not in the supported set", defaultVoice)
	}
	c.defaultVoice = defaultVoice
	return c, nil
}

// MustParseCatalog is ParseCatalog for literals known to be valid.
func MustParseCatalog(spec string) *Catalog {
	c, err := ParseCatalog(spec, "")
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Supports(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// ProviderVoice maps a voice id onto the name the synthesis provider expects.
func (c *Catalog) ProviderVoice(id string) (string, bool) {
	v, ok := c.byID[id]
	return v, ok
}

func (c *Catalog) Default() string { return c.defaultVoice }

func (c *Catalog) Options() []VoiceOption {
	out := make([]VoiceOption, len(c.options))
	copy(out, c.options)
	return out
}

func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.options))
	for i, o := range c.options {
		ids[i] = o.ID
	}
	return ids
}
