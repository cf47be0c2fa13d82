package model

import (
	"strings"
	"time"
)

// CandidateItem is one fetched article or social post awaiting
// classification. It is owned by the pipeline driver for the duration of a
// single classification call.
type CandidateItem struct {
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	URL         string     `json:"url,omitempty"`
	SourceID    string     `json:"source_id"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Text merges title and body into the single text the matcher scans.
func (c CandidateItem) Text() string {
	switch {
	case c.Title == "":
		return c.Body
	case c.Body == "":
		return c.Title
	default:
		return c.Title + " " + c.Body
	}
}

// HasURL reports whether the item carries a non-blank URL.
func (c CandidateItem) HasURL() bool {
	return strings.TrimSpace(c.URL) != ""
}
