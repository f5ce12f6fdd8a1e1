package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBookDisplay(t *testing.T) {
	tests := []struct {
		name       string
		book       Book
		wantAuthor string
		wantDetail string
	}{
		{
			name:       "known author with link",
			book:       Book{Title: "Dune", Author: "Frank Herbert", AuthorState: AuthorKnown, DetailURL: "http://books.google.com/books?id=1"},
			wantAuthor: "Frank Herbert",
			wantDetail: "http://books.google.com/books?id=1",
		},
		{
			name:       "null authors",
			book:       Book{Title: "Anon", AuthorState: AuthorUnknown},
			wantAuthor: UnknownAuthorText,
			wantDetail: MissingDetailText,
		},
		{
			name:       "absent authors",
			book:       Book{Title: "Anon", AuthorState: AuthorMissing},
			wantAuthor: MissingAuthorText,
			wantDetail: MissingDetailText,
		},
		{
			name:       "zero state",
			book:       Book{Title: "Anon"},
			wantAuthor: MissingAuthorText,
			wantDetail: MissingDetailText,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.book.AuthorDisplay(); got != tt.wantAuthor {
				t.Fatalf("author = %q, want %q", got, tt.wantAuthor)
			}
			if got := tt.book.DetailDisplay(); got != tt.wantDetail {
				t.Fatalf("detail = %q, want %q", got, tt.wantDetail)
			}
			if tt.book.HasDetail() != (tt.book.DetailURL != "") {
				t.Fatalf("HasDetail mismatch for %+v", tt.book)
			}
		})
	}
}

func TestBooksOutcome(t *testing.T) {
	if out := BooksOutcome(nil); out.Kind != OutcomeEmpty || out.Failed() {
		t.Fatalf("expected empty outcome, got %+v", out)
	}
	out := BooksOutcome([]Book{{Title: "Dune"}})
	if out.Kind != OutcomeBooks || len(out.Books) != 1 {
		t.Fatalf("expected books outcome, got %+v", out)
	}
}

func TestFailedOutcome(t *testing.T) {
	out := FailedOutcome(FailureParse, errors.New("bad json"))
	if !out.Failed() || out.Failure != FailureParse || out.Err != "bad json" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out := FailedOutcome(FailureNoConnectivity, nil); out.Err != "" {
		t.Fatalf("expected empty error, got %q", out.Err)
	}
}

func TestSearchStatusApply(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	base := SearchStatus{SessionID: "s1", Query: "dune", Status: StatusLoading}

	populated := base.Apply(BooksOutcome([]Book{{Title: "Dune"}}), at)
	if populated.Status != StatusPopulated || len(populated.Books) != 1 || !populated.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected populated status %+v", populated)
	}
	if base.Status != StatusLoading {
		t.Fatalf("Apply mutated receiver: %+v", base)
	}

	if empty := base.Apply(BooksOutcome(nil), at); empty.Status != StatusEmpty || empty.Books != nil {
		t.Fatalf("unexpected empty status %+v", empty)
	}

	failed := populated.Apply(FailedOutcome(FailureStatus, errors.New("http 503")), at)
	if failed.Status != StatusFailed || failed.Failure != FailureStatus || failed.Error != "http 503" {
		t.Fatalf("unexpected failed status %+v", failed)
	}
	if failed.Books != nil {
		t.Fatalf("expected books cleared, got %v", failed.Books)
	}
}

func TestNewSearchResult(t *testing.T) {
	job := SearchJob{SessionID: "s1", Query: "dune", URL: "https://example.test/volumes?q=dune"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	payload, err := NewSearchResult(job, FailedOutcome(FailureTransport, errors.New("reset")), at)
	if err != nil || payload != nil {
		t.Fatalf("expected nil payload for failure, got %s, %v", payload, err)
	}

	payload, err = NewSearchResult(job, BooksOutcome([]Book{{Title: "Dune", AuthorState: AuthorKnown, Author: "Frank Herbert"}}), at)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result SearchResult
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.SessionID != "s1" || result.Kind != OutcomeBooks || len(result.Books) != 1 || result.Books[0].Author != "Frank Herbert" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.DoneAt.Equal(at) {
		t.Fatalf("done_at = %v, want %v", result.DoneAt, at)
	}
}

func TestSearchJobValidate(t *testing.T) {
	valid := SearchJob{SessionID: "s1", Query: "dune", URL: "https://www.googleapis.com/books/v1/volumes?q=dune"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		job  SearchJob
		want string
	}{
		{name: "missing session", job: SearchJob{URL: valid.URL}, want: "session_id is required"},
		{name: "missing url", job: SearchJob{SessionID: "s1"}, want: "url is required"},
		{name: "bad url", job: SearchJob{SessionID: "s1", URL: "volumes?q=dune"}, want: "url must be a valid URL"},
		{name: "long query", job: SearchJob{SessionID: "s1", URL: valid.URL, Query: strings.Repeat("q", MaxQueryLength+1)}, want: "query must be at most 512 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if !errors.Is(err, ErrInvalidPayload) {
				t.Fatalf("expected ErrInvalidPayload, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestTopicPayloadValidate(t *testing.T) {
	if err := (SearchResult{SessionID: "s1", Kind: OutcomeEmpty}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (SearchResult{SessionID: "s1", Kind: OutcomeFailed}).Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("failed kind must not reach the results topic, got %v", err)
	}
	if err := (SearchFailure{SessionID: "s1", Failure: FailureParse}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (SearchFailure{Failure: FailureNone}).Validate(); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}
