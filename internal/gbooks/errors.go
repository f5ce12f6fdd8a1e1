package gbooks

import (
	"errors"
	"fmt"
	"net"
	"syscall"

	"booklisting/internal/models"
)

var (
	// ErrTransport marks connect, timeout and I/O failures.
	ErrTransport = errors.New("catalog transport failure")
	// ErrParse marks a response body that is not a volumes document.
	ErrParse = errors.New("catalog parse failure")
)

// StatusError is returned for any non-200 catalog response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// Classify maps a pipeline error to its failure kind.
func Classify(err error) models.FailureKind {
	var statusErr *StatusError
	switch {
	case err == nil:
		return models.FailureNone
	case errors.As(err, &statusErr):
		return models.FailureStatus
	case errors.Is(err, ErrParse):
		return models.FailureParse
	case offline(err):
		return models.FailureNoConnectivity
	default:
		return models.FailureTransport
	}
}

// Retryable reports whether a failed fetch is worth another attempt:
// transport errors, 429 and 5xx.
func Retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}
	return errors.Is(err, ErrTransport)
}

// offline reports errors that mean the host has no route to the catalog:
// name resolution failures and unreachable networks.
func offline(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH)
}
