package models

import "time"

// SearchFailure captures a failed search job for the DLQ.
type SearchFailure struct {
	SessionID string      `json:"session_id" validate:"required"`
	Query     string      `json:"query"`
	URL       string      `json:"url"`
	Failure   FailureKind `json:"failure" validate:"oneof=no_connectivity transport parse status"`
	Error     string      `json:"error"`
	FailedAt  time.Time   `json:"failed_at"`
}
