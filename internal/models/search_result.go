package models

import (
	"encoding/json"
	"time"
)

// SearchResult is the payload written to the results topic.
type SearchResult struct {
	SessionID string      `json:"session_id" validate:"required"`
	Query     string      `json:"query"`
	URL       string      `json:"url"`
	Kind      OutcomeKind `json:"kind" validate:"oneof=books empty"`
	Books     []Book      `json:"books,omitempty"`
	DoneAt    time.Time   `json:"done_at"`
}

// NewSearchResult marshals a results-topic payload for a finished job.
// Failed outcomes go to the DLQ instead and yield nil.
func NewSearchResult(job SearchJob, out SearchOutcome, at time.Time) ([]byte, error) {
	if out.Failed() {
		return nil, nil
	}
	return json.Marshal(SearchResult{
		SessionID: job.SessionID,
		Query:     job.Query,
		URL:       job.URL,
		Kind:      out.Kind,
		Books:     out.Books,
		DoneAt:    at,
	})
}
