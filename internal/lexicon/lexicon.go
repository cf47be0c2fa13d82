// Package lexicon holds the static tables the matcher classifies against:
// tracked organizations, tiered TGE keywords and global exclusion phrases.
package lexicon

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tier is a coarse confidence or priority bucket.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// Rank orders tiers so that a higher value means more important.
// Unknown tiers rank below TierLow.
func (t Tier) Rank() int {
	switch t {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// Bonus returns the confidence bonus awarded for an organization of this tier.
func (t Tier) Bonus() int {
	switch t {
	case TierHigh:
		return 15
	case TierMedium:
		return 10
	case TierLow:
		return 5
	default:
		return 0
	}
}

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Organization is a tracked project that may run a token generation event.
type Organization struct {
	Name             string   `yaml:"name" json:"name"`
	Aliases          []string `yaml:"aliases" json:"aliases,omitempty"`
	TokenSymbols     []string `yaml:"token_symbols" json:"token_symbols,omitempty"`
	ExclusionPhrases []string `yaml:"exclusion_phrases" json:"exclusion_phrases,omitempty"`
	Priority         Tier     `yaml:"priority" json:"priority"`
	LifecycleStatus  string   `yaml:"lifecycle_status" json:"lifecycle_status,omitempty"`

	// CashtagOnly disables bare upper-case ticker hits for tickers that
	// collide with ordinary abbreviations (MON, ES).
	CashtagOnly bool `yaml:"cashtag_only" json:"cashtag_only,omitempty"`
}

// Names returns the organization name followed by its aliases.
func (o Organization) Names() []string {
	names := make([]string, 0, len(o.Aliases)+1)
	names = append(names, o.Name)
	names = append(names, o.Aliases...)
	return names
}

// KeywordSet groups TGE keywords into three disjoint confidence tiers.
type KeywordSet struct {
	High   []string `yaml:"high" json:"high"`
	Medium []string `yaml:"medium" json:"medium"`
	Low    []string `yaml:"low" json:"low"`
}

// Tier returns the keywords for the given tier.
func (k KeywordSet) Tier(t Tier) []string {
	switch t {
	case TierHigh:
		return k.High
	case TierMedium:
		return k.Medium
	case TierLow:
		return k.Low
	default:
		return nil
	}
}

// Lexicon is the versioned, immutable classification vocabulary.
type Lexicon struct {
	Version       string         `yaml:"version" json:"version"`
	Organizations []Organization `yaml:"organizations" json:"organizations"`
	Keywords      KeywordSet     `yaml:"keywords" json:"keywords"`
	Exclusions    []string       `yaml:"exclusions" json:"exclusions"`
}

// LoadFile reads a YAML lexicon from path and validates it.
func LoadFile(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "lexicon: read %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML lexicon and validates it.
func Parse(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, eris.Wrap(err, "lexicon: decode yaml")
	}
	for i := range lex.Organizations {
		if lex.Organizations[i].Priority == "" {
			lex.Organizations[i].Priority = TierLow
		}
	}
	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return &lex, nil
}

// Validate checks that the lexicon is internally consistent: unique,
// non-empty organization names, known priority tiers and disjoint keyword
// tiers.
func (l *Lexicon) Validate() error {
	var errs []string

	if len(l.Organizations) == 0 {
		errs = append(errs, "at least one organization is required")
	}

	seen := make(map[string]bool, len(l.Organizations))
	for i, org := range l.Organizations {
		name := strings.ToLower(strings.TrimSpace(org.Name))
		if name == "" {
			errs = append(errs, fmt.Sprintf("organization %d has an empty name", i))
			continue
		}
		if seen[name] {
			errs = append(errs, fmt.Sprintf("duplicate organization %q", org.Name))
		}
		seen[name] = true
		if !org.Priority.Valid() {
			errs = append(errs, fmt.Sprintf("organization %q has unknown priority %q", org.Name, org.Priority))
		}
	}

	owner := make(map[string]Tier)
	for _, tier := range []Tier{TierHigh, TierMedium, TierLow} {
		for _, kw := range l.Keywords.Tier(tier) {
			k := strings.ToLower(strings.TrimSpace(kw))
			if k == "" {
				errs = append(errs, fmt.Sprintf("empty keyword in %s tier", tier))
				continue
			}
			if prev, ok := owner[k]; ok && prev != tier {
				errs = append(errs, fmt.Sprintf("keyword %q appears in both %s and %s tiers", kw, prev, tier))
				continue
			}
			owner[k] = tier
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("lexicon: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Organization returns the organization with the given name (case-insensitive).
func (l *Lexicon) Organization(name string) (Organization, bool) {
	for _, org := range l.Organizations {
		if strings.EqualFold(org.Name, name) {
			return org, true
		}
	}
	return Organization{}, false
}
