// Package matcher classifies candidate items against the lexicon and decides
// whether they describe a token generation event for a tracked organization.
//
// Every phrase the matcher cares about (organization names, tickers,
// keyword tiers, exclusions and the fixed vocabularies) is compiled into a
// single Aho-Corasick automaton, so classification is one pass over the
// normalized text followed by cheap set lookups.
package matcher

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/sells-group/tge-sentinel/internal/lexicon"
	"github.com/sells-group/tge-sentinel/internal/model"
	"github.com/sells-group/tge-sentinel/internal/textprep"
)

// term is a labelled reference to a phrase in the automaton dictionary.
type term struct {
	label string
	id    int
}

type orgTerms struct {
	org        lexicon.Organization
	names      []term
	tokens     []term // label is the ticker as configured, phrase is "$ticker"
	exclusions []term
}

// Matcher is an immutable, pre-compiled classifier. It is safe for
// concurrent use by any number of goroutines.
type Matcher struct {
	ac      *ahocorasick.Matcher
	phrases []string
	index   map[string]int

	exclusions []term
	overrides  []term
	keywords   map[lexicon.Tier][]term
	signals    []term
	actions    []term
	orgs       []orgTerms
}

// New compiles lex into a Matcher. A nil lexicon yields a Matcher that never
// matches.
func New(lex *lexicon.Lexicon) *Matcher {
	m := &Matcher{
		index:    make(map[string]int),
		keywords: make(map[lexicon.Tier][]term),
	}
	if lex == nil {
		return m
	}

	for _, p := range lex.Exclusions {
		m.exclusions = m.appendTerm(m.exclusions, p, p)
	}
	for _, p := range strongOverrides {
		m.overrides = m.appendTerm(m.overrides, p, p)
	}
	for _, tier := range []lexicon.Tier{lexicon.TierHigh, lexicon.TierMedium, lexicon.TierLow} {
		for _, kw := range lex.Keywords.Tier(tier) {
			m.keywords[tier] = m.appendTerm(m.keywords[tier], kw, strings.ToLower(strings.TrimSpace(kw)))
		}
	}
	for _, wf := range signalWords {
		for _, f := range wf.forms {
			m.signals = m.appendTerm(m.signals, f, wf.root)
		}
	}
	for _, wf := range actionVerbs {
		for _, f := range wf.forms {
			m.actions = m.appendTerm(m.actions, f, wf.root)
		}
	}
	for _, org := range lex.Organizations {
		ot := orgTerms{org: org}
		for _, name := range org.Names() {
			ot.names = m.appendTerm(ot.names, name, name)
		}
		for _, sym := range org.TokenSymbols {
			sym = strings.TrimPrefix(strings.TrimSpace(sym), "$")
			ot.tokens = m.appendTerm(ot.tokens, "$"+sym, strings.ToUpper(sym))
		}
		for _, ex := range org.ExclusionPhrases {
			ot.exclusions = m.appendTerm(ot.exclusions, ex, ex)
		}
		m.orgs = append(m.orgs, ot)
	}

	if len(m.phrases) > 0 {
		m.ac = ahocorasick.NewStringMatcher(m.phrases)
	}
	return m
}

// appendTerm registers phrase in the dictionary (once) and appends a term
// pointing at it. Phrases without word characters are dropped.
func (m *Matcher) appendTerm(terms []term, phrase, label string) []term {
	p := textprep.Phrase(phrase)
	if p == "" {
		return terms
	}
	id, ok := m.index[p]
	if !ok {
		id = len(m.phrases)
		m.phrases = append(m.phrases, p)
		m.index[p] = id
	}
	return append(terms, term{label: label, id: id})
}

// Classify builds a Matcher for lex and classifies item with it. Callers
// classifying many items should build a Matcher once with New.
func Classify(item model.CandidateItem, lex *lexicon.Lexicon) model.MatchResult {
	return New(lex).Classify(item)
}

// candidate is an organization mentioned in the text and not excluded.
type candidate struct {
	org    lexicon.Organization
	names  []string
	tokens []string
}

// Classify scores a single item. It never fails: absence of a match is a
// MatchResult with IsMatch false and a rationale explaining why.
func (m *Matcher) Classify(item model.CandidateItem) model.MatchResult {
	raw := strings.TrimSpace(item.Text())
	n := utf8.RuneCountInString(raw)
	if n < minTextLength {
		return model.NoMatch(fmt.Sprintf("text too short (%d characters)", n))
	}
	if n > maxTextLength {
		return model.NoMatch(fmt.Sprintf("text too long (%d characters)", n))
	}
	if m.ac == nil {
		return model.NoMatch("empty lexicon")
	}

	hits := make([]bool, len(m.phrases))
	for _, id := range m.ac.MatchThreadSafe([]byte(textprep.Normalize(raw))) {
		if id >= 0 && id < len(hits) {
			hits[id] = true
		}
	}

	if excl := present(m.exclusions, hits); len(excl) > 0 {
		if len(present(m.overrides, hits)) == 0 {
			return model.NoMatch(fmt.Sprintf("global exclusion %s present without a strong override phrase", quoteList(excl)))
		}
	}

	var rationale []string
	upper := upperWords(raw)
	var candidates []candidate
	for _, ot := range m.orgs {
		names := present(ot.names, hits)
		tokens := present(ot.tokens, hits)
		if !ot.org.CashtagOnly {
			for _, t := range ot.tokens {
				if !hits[t.id] && len(t.label) >= minBareTickerLength && upper[t.label] {
					tokens = appendUnique(tokens, t.label)
				}
			}
		}
		if len(names) == 0 && len(tokens) == 0 {
			continue
		}
		if excl := present(ot.exclusions, hits); len(excl) > 0 {
			rationale = append(rationale, fmt.Sprintf("organization %s skipped: exclusion %s present", ot.org.Name, quoteList(excl)))
			continue
		}
		candidates = append(candidates, candidate{org: ot.org, names: names, tokens: tokens})
	}

	if len(candidates) == 0 {
		return model.NoMatch(append(rationale, "no tracked organization mentioned")...)
	}

	high := present(m.keywords[lexicon.TierHigh], hits)
	medium := present(m.keywords[lexicon.TierMedium], hits)
	low := present(m.keywords[lexicon.TierLow], hits)
	signals := present(m.signals, hits)
	actions := present(m.actions, hits)

	keywords := make([]string, 0, len(high)+len(medium)+len(low))
	keywords = append(keywords, high...)
	keywords = append(keywords, medium...)
	keywords = append(keywords, low...)

	var (
		kind     model.StrategyKind
		base     int
		matched  []candidate
		evidence model.Evidence
	)

	switch {
	case len(high) > 0 && len(qualifyHigh(candidates, len(high))) > 0:
		kind, base = model.StrategyHighConfidence, baseHighConfidence
		matched = qualifyHigh(candidates, len(high))
		evidence = model.HighConfidenceEvidence{HighKeywords: high}
		rationale = append(rationale, fmt.Sprintf("high-tier keywords %s", quoteList(high)))
	case len(medium) > 0 && len(signals) >= minSignalsForMedium && len(highPriority(candidates)) > 0:
		kind, base = model.StrategyMediumConfidence, baseMediumConfidence
		matched = highPriority(candidates)
		evidence = model.MediumConfidenceEvidence{MediumKeywords: medium, SignalWords: signals}
		rationale = append(rationale,
			fmt.Sprintf("medium-tier keywords %s", quoteList(medium)),
			fmt.Sprintf("%d signal words %s", len(signals), quoteList(signals)),
		)
	case len(actions) > 0 && len(tokenAction(candidates)) > 0:
		kind, base = model.StrategyTokenAction, baseTokenAction
		matched = tokenAction(candidates)
		var tokens []string
		for _, c := range matched {
			tokens = appendUnique(tokens, c.tokens...)
		}
		evidence = model.TokenActionEvidence{Tokens: tokens, Actions: actions}
		rationale = append(rationale,
			fmt.Sprintf("token symbols %s with action verbs %s", quoteList(tokens), quoteList(actions)),
		)
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.org.Name
		}
		return model.NoMatch(append(rationale,
			fmt.Sprintf("organizations %s mentioned without a qualifying keyword or action pattern", quoteList(names)),
		)...)
	}

	res := model.MatchResult{
		IsMatch:         true,
		Strategy:        kind,
		Evidence:        evidence,
		MatchedKeywords: keywords,
	}

	best := lexicon.Tier("")
	for _, c := range matched {
		res.MatchedOrganizations = appendUnique(res.MatchedOrganizations, c.org.Name)
		res.MatchedTokens = appendUnique(res.MatchedTokens, c.tokens...)
		if c.org.Priority.Rank() > best.Rank() {
			best = c.org.Priority
		}
		rationale = append(rationale, describeCandidate(c))
	}
	res.PriorityLevel = best

	priorityBonus := best.Bonus()
	keywordBonus := min(2*len(keywords), maxKeywordBonus)
	signalBonus := min(len(signals), maxSignalBonus)
	raw100 := base + priorityBonus + keywordBonus + signalBonus
	res.ConfidenceScore = clamp(raw100, 0, 100)

	rationale = append(rationale,
		fmt.Sprintf("strategy %s: base %d + priority %d (%s) + keywords %d + signals %d = %d",
			kind, base, priorityBonus, best, keywordBonus, signalBonus, raw100),
	)
	if raw100 != res.ConfidenceScore {
		rationale = append(rationale, fmt.Sprintf("score clamped to %d", res.ConfidenceScore))
	}
	res.Rationale = rationale
	return res
}

// qualifyHigh returns the candidates whose priority tier justifies a
// high-confidence match given the number of high-tier keywords present.
func qualifyHigh(cands []candidate, highCount int) []candidate {
	var out []candidate
	for _, c := range cands {
		switch c.org.Priority {
		case lexicon.TierHigh:
			out = append(out, c)
		case lexicon.TierMedium:
			if highCount >= 1 {
				out = append(out, c)
			}
		case lexicon.TierLow:
			if highCount >= 2 {
				out = append(out, c)
			}
		}
	}
	return out
}

func highPriority(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		if c.org.Priority == lexicon.TierHigh {
			out = append(out, c)
		}
	}
	return out
}

func tokenAction(cands []candidate) []candidate {
	var out []candidate
	for _, c := range cands {
		if c.org.Priority == lexicon.TierHigh && len(c.tokens) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func describeCandidate(c candidate) string {
	var parts []string
	if len(c.names) > 0 {
		parts = append(parts, "names "+quoteList(c.names))
	}
	if len(c.tokens) > 0 {
		parts = append(parts, "tokens "+quoteList(c.tokens))
	}
	return fmt.Sprintf("organization %s (priority %s) matched on %s", c.org.Name, c.org.Priority, strings.Join(parts, " and "))
}

// present returns the unique labels of terms whose phrase was hit, in term order.
func present(terms []term, hits []bool) []string {
	var out []string
	for _, t := range terms {
		if hits[t.id] {
			out = appendUnique(out, t.label)
		}
	}
	return out
}

// upperWords returns the set of all-uppercase words in the original text,
// used to recognise bare tickers such as "CAL" without a "$" prefix.
func upperWords(s string) map[string]bool {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool)
	for _, w := range words {
		if w == strings.ToUpper(w) && w != strings.ToLower(w) {
			out[w] = true
		}
	}
	return out
}

func appendUnique(dst []string, vals ...string) []string {
	for _, v := range vals {
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func quoteList(vals []string) string {
	q := make([]string, len(vals))
	for i, v := range vals {
		q[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(q, ", ") + "]"
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
