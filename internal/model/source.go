package model

import "time"

// SeenEntry is one SeenSet row: a dedup key and when it was first observed.
type SeenEntry struct {
	Key    string    `json:"key"`
	SeenAt time.Time `json:"seen_at"`
}

// SourceRecord tracks fetch outcomes for a single source. It is created on
// the first observed attempt and only removed by an explicit reset.
type SourceRecord struct {
	SourceID            string     `json:"source_id"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CircuitOpenUntil    *time.Time `json:"circuit_open_until,omitempty"`
	SuccessCount        int        `json:"success_count"`
	FailureCount        int        `json:"failure_count"`
	YieldCount          int        `json:"yield_count"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastFailureAt       *time.Time `json:"last_failure_at,omitempty"`
}

// Attempts returns the total number of recorded fetch attempts.
func (r SourceRecord) Attempts() int {
	return r.SuccessCount + r.FailureCount
}

// Alert is a classified, deduplicated item ready for notification or storage.
type Alert struct {
	ID         string        `json:"id"`
	Namespace  string        `json:"namespace"`
	Item       CandidateItem `json:"item"`
	Result     MatchResult   `json:"result"`
	DetectedAt time.Time     `json:"detected_at"`
}
