// Package protocol defines the error taxonomy shared by clients of remote fleet APIs.
package protocol

import (
	"errors"
)

// Error exposes methods useful for categorizing errors.
type Error interface {
	error

	// MayHaveSucceeded returns true if the Error was triggered by a request that might have been
	// executed. For example, if a client times out while waiting for a response, then the client
	// cannot tell if the request was received. (Not all timeouts mean the request
	// MayHaveSucceeded, so the common Timeout() error interface is not appropriate here).
	MayHaveSucceeded() bool

	// Temporary returns true if the Error might be the result of a transient condition, such as
	// the server rate limiting the caller or a database that is briefly unavailable.
	Temporary() bool
}

var (
	// ErrBadResponse indicates the server replied with a body that could not be decoded.
	ErrBadResponse = errors.New("invalid response")
	// ErrResponseTooLarge indicates the server replied with more data than clients accept.
	ErrResponseTooLarge = NewError("response exceeds maximum length", true, false)
	// ErrNotAuthenticated indicates a call was made before a session was established.
	ErrNotAuthenticated = NewError("session is not authenticated", false, false)
)

type CommandError struct {
	Err               error
	PossibleSuccess   bool
	PossibleTemporary bool
}

func NewError(message string, mayHaveSucceeded bool, temporary bool) error {
	return &CommandError{Err: errors.New(message), PossibleSuccess: mayHaveSucceeded, PossibleTemporary: temporary}
}

func (e *CommandError) Error() string {
	return e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) MayHaveSucceeded() bool {
	return e.PossibleSuccess
}

func (e *CommandError) Temporary() bool {
	return e.PossibleTemporary
}

// MayHaveSucceeded returns true if err is an Error that indicates the request may have been
// executed but the client did not receive a confirmation from the server.
func MayHaveSucceeded(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) && commErr.MayHaveSucceeded() {
		return true
	}
	return false
}

// Temporary returns true if err is an Error that indicates the request failed due to possibly
// transient conditions that do not require user action to resolve.
func Temporary(err error) bool {
	var commErr Error
	if errors.As(err, &commErr) && commErr.Temporary() {
		return true
	}
	return false
}

// ShouldRetry returns true if the client should retry the request that triggered an error.
//
// Requests that may have succeeded are never retried, since replaying an Add would create a
// duplicate record.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	var e Error
	if errors.As(err, &e) {
		if e.MayHaveSucceeded() {
			return false
		}
		return e.Temporary()
	}
	return false
}
