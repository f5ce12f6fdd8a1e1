package models

// OutcomeKind tags the result of one pipeline run.
type OutcomeKind string

const (
	OutcomeBooks  OutcomeKind = "books"
	OutcomeEmpty  OutcomeKind = "empty"
	OutcomeFailed OutcomeKind = "failed"
)

// FailureKind classifies why a pipeline run produced no books.
type FailureKind string

const (
	FailureNone           FailureKind = ""
	FailureNoConnectivity FailureKind = "no_connectivity"
	FailureTransport      FailureKind = "transport"
	FailureParse          FailureKind = "parse"
	FailureStatus         FailureKind = "status"
)

// SearchOutcome is the tagged result of a search: books, no matches, or a failure.
type SearchOutcome struct {
	Kind    OutcomeKind `json:"kind"`
	Books   []Book      `json:"books,omitempty"`
	Failure FailureKind `json:"failure,omitempty"`
	Err     string      `json:"error,omitempty"`
}

// BooksOutcome wraps a parsed result list. An empty list becomes OutcomeEmpty.
func BooksOutcome(books []Book) SearchOutcome {
	if len(books) == 0 {
		return SearchOutcome{Kind: OutcomeEmpty}
	}
	return SearchOutcome{Kind: OutcomeBooks, Books: books}
}

// FailedOutcome records a failure of the given kind.
func FailedOutcome(kind FailureKind, err error) SearchOutcome {
	out := SearchOutcome{Kind: OutcomeFailed, Failure: kind}
	if err != nil {
		out.Err = err.Error()
	}
	return out
}

func (o SearchOutcome) Failed() bool {
	return o.Kind == OutcomeFailed
}
