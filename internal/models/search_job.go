package models

import "time"

// SearchJob is a queued search request for the worker.
type SearchJob struct {
	SessionID string    `json:"session_id" validate:"required"`
	Query     string    `json:"query" validate:"max=512"`
	URL       string    `json:"url" validate:"required,url"`
	CreatedAt time.Time `json:"created_at"`
}
