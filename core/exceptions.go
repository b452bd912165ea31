package core

import (
	"errors"
	"fmt"
)

// NoStrategyMessage is the result text when no strategy handles a category.
const NoStrategyMessage = "No correction strategy available"

var (
	ErrNoStrategy          = errors.New("no correction strategy available")
	ErrRetriesExhausted    = errors.New("max retries exceeded")
	ErrNoRetryFunc         = errors.New("no retry function supplied")
	ErrRefreshUnavailable  = errors.New("token refresh failed, redirecting to login")
	ErrMissingUserData     = errors.New("missing user data, redirecting to questionnaire")
	ErrComponentMount      = errors.New("component mount failed")
	ErrCorrectionPanicked  = errors.New("correction strategy panicked")
	ErrCorrectionCancelled = errors.New("correction cancelled")
)

// ReportedError is an error observed by a client, with the optional HTTP
// details the classifier and the rate-limit strategy look at.
type ReportedError struct {
	Message    string
	Status     int
	RetryAfter int // milliseconds, 0 when the server gave none
	Stack      string
}

func (e *ReportedError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status attached to the error, 0 if none.
func (e *ReportedError) StatusCode() int {
	return e.Status
}

// NewReportedError builds a ReportedError from a message and status.
func NewReportedError(msg string, status int) *ReportedError {
	return &ReportedError{Message: msg, Status: status}
}

// PanicError wraps a value recovered from a strategy panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCorrectionPanicked, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrCorrectionPanicked
}
