package models

import "time"

// Session states stored in the status store.
const (
	StatusQueued    = "queued"
	StatusLoading   = "loading"
	StatusPopulated = "populated"
	StatusEmpty     = "empty"
	StatusFailed    = "failed"
)

// SearchStatus tracks the state of a search session.
type SearchStatus struct {
	SessionID string      `json:"session_id"`
	Query     string      `json:"query"`
	URL       string      `json:"url"`
	Status    string      `json:"status"`
	Books     []Book      `json:"books,omitempty"`
	Failure   FailureKind `json:"failure,omitempty"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

// Apply copies a finished outcome into the status record.
func (s SearchStatus) Apply(out SearchOutcome, at time.Time) SearchStatus {
	s.Books = out.Books
	s.Failure = out.Failure
	s.Error = out.Err
	s.UpdatedAt = at
	switch out.Kind {
	case OutcomeBooks:
		s.Status = StatusPopulated
	case OutcomeEmpty:
		s.Status = StatusEmpty
	default:
		s.Status = StatusFailed
	}
	return s
}
