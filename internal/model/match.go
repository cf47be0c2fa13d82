package model

import (
	"github.com/sells-group/tge-sentinel/internal/lexicon"
)

// StrategyKind identifies which matching rule produced a result.
type StrategyKind string

const (
	StrategyNone             StrategyKind = "none"
	StrategyHighConfidence   StrategyKind = "high_confidence"
	StrategyMediumConfidence StrategyKind = "medium_confidence"
	StrategyTokenAction      StrategyKind = "token_action"
)

// Evidence is the strategy-specific justification attached to a match.
// The concrete type determines which fields exist for each strategy.
type Evidence interface {
	Strategy() StrategyKind
	evidence()
}

// HighConfidenceEvidence backs a StrategyHighConfidence match.
type HighConfidenceEvidence struct {
	HighKeywords []string `json:"high_keywords"`
}

// MediumConfidenceEvidence backs a StrategyMediumConfidence match.
type MediumConfidenceEvidence struct {
	MediumKeywords []string `json:"medium_keywords"`
	SignalWords    []string `json:"signal_words"`
}

// TokenActionEvidence backs a StrategyTokenAction match.
type TokenActionEvidence struct {
	Tokens  []string `json:"tokens"`
	Actions []string `json:"actions"`
}

func (HighConfidenceEvidence) Strategy() StrategyKind   { return StrategyHighConfidence }
func (MediumConfidenceEvidence) Strategy() StrategyKind { return StrategyMediumConfidence }
func (TokenActionEvidence) Strategy() StrategyKind      { return StrategyTokenAction }

func (HighConfidenceEvidence) evidence()   {}
func (MediumConfidenceEvidence) evidence() {}
func (TokenActionEvidence) evidence()      {}

// MatchResult is the outcome of classifying one CandidateItem. It is built
// once per call and never mutated afterwards.
type MatchResult struct {
	IsMatch              bool         `json:"is_match"`
	ConfidenceScore      int          `json:"confidence_score"`
	MatchedOrganizations []string     `json:"matched_organizations,omitempty"`
	MatchedTokens        []string     `json:"matched_tokens,omitempty"`
	MatchedKeywords      []string     `json:"matched_keywords,omitempty"`
	Strategy             StrategyKind `json:"strategy"`
	Evidence             Evidence     `json:"evidence,omitempty"`
	PriorityLevel        lexicon.Tier `json:"priority_level,omitempty"`
	Rationale            []string     `json:"rationale,omitempty"`
}

// NoMatch returns a non-matching result carrying the given reasons.
func NoMatch(reasons ...string) MatchResult {
	return MatchResult{
		Strategy:  StrategyNone,
		Rationale: reasons,
	}
}

// Alertable reports whether the result matched with at least minScore confidence.
func (r MatchResult) Alertable(minScore int) bool {
	return r.IsMatch && r.ConfidenceScore >= minScore
}
