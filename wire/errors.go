package wire

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCall = errors.New("wire: invalid call")
	ErrNilResponse = errors.New("wire: nil response")
	ErrEmptyBody   = errors.New("wire: empty response body")
)

// TransportError reports a network or HTTP-level failure after the
// transport's own retry policy is exhausted.
type TransportError struct {
	Status int // HTTP status when one was received, else 0
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("wire: transport failure (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("wire: transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServiceError is a structured non-success status returned by the remote
// service. It is never retried at this layer.
type ServiceError struct {
	Code    int
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wire: service returned status %d", e.Code)
	}
	return fmt.Sprintf("wire: service returned status %d: %s", e.Code, e.Message)
}

// ShapeError reports a response whose XML does not match the protocol
// contract: a required node absent, duplicated, or unparseable.
type ShapeError struct {
	Method string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("wire: malformed response: %s", e.Reason)
	}
	return fmt.Sprintf("wire: malformed %s response: %s", e.Method, e.Reason)
}
