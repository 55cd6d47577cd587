package offchain

import (
	"errors"
	"fmt"
)

// HTTPErrorKind classifies a failed gateway request.
type HTTPErrorKind int

const (
	IoError HTTPErrorKind = iota
	DeadlineReached
	Unknown
)

func (k HTTPErrorKind) String() string {
	switch k {
	case IoError:
		return "IoError"
	case DeadlineReached:
		return "DeadlineReached"
	default:
		return "Unknown"
	}
}

// HTTPRequestError is a transport failure, a deadline, or an unexpected response.
// Retried on the next worker pass.
type HTTPRequestError struct {
	Kind   HTTPErrorKind
	Status int // set for unexpected status codes
	Err    error
}

func (e *HTTPRequestError) Error() string {
	msg := "http request: " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HTTPRequestError) Unwrap() error { return e.Err }

// SigningError wraps a failure to build or sign an arweave transaction.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return "arweave signing: " + e.Err.Error() }
func (e *SigningError) Unwrap() error { return e.Err }

// ErrTransactionPending reports a 202 from the gateway. It aborts the rest of the validate stage.
var ErrTransactionPending = errors.New("arweave transaction pending")

// BoundedError reports a value longer than its chain-state bound.
type BoundedError struct {
	Value []byte
	Limit int
}

func (e *BoundedError) Error() string {
	return fmt.Sprintf("bounded vec: length %d exceeds %d", len(e.Value), e.Limit)
}
