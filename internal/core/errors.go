package core

import (
	"errors"
	"fmt"
)

// Class groups errors by who is at fault. The HTTP layer maps it to a status code.
type Class int

const (
	// ClassService is a fault of the service or one of its backends.
	ClassService Class = iota
	// ClassClient is a fault of the submitted input.
	ClassClient
)

// Sentinel errors for input validation.
var (
	ErrTextEmpty        = errors.New("text cannot be empty")
	ErrAudioEmpty       = errors.New("audio cannot be empty")
	ErrUnsupportedAudio = errors.New("unsupported audio type")
	ErrAudioTooLarge    = errors.New("audio exceeds upload limit")
)

// ClientInputError rejects a request before any work is done.
type ClientInputError struct {
	Err error
}

func (e *ClientInputError) Error() string { return "invalid input: " + e.Err.Error() }
func (e *ClientInputError) Unwrap() error { return e.Err }

// Class implements the classified error contract.
func (e *ClientInputError) Class() Class { return ClassClient }

// ConversionError reports a failed audio transcode. Output holds the
// transcoder's diagnostics.
type ConversionError struct {
	Output string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("audio conversion failed: %v", e.Err)
	}

	return fmt.Sprintf("audio conversion failed: %v - output: %s", e.Err, e.Output)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Class implements the classified error contract.
func (e *ConversionError) Class() Class { return ClassClient }

// ValidationError reports a missing required field detected before a remote call.
type ValidationError struct {
	Stage string
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: required field %q is empty", e.Stage, e.Field)
}

// Class implements the classified error contract.
func (e *ValidationError) Class() Class { return ClassClient }

// RemoteServiceError wraps a transport failure, timeout or non-2xx response.
type RemoteServiceError struct {
	Stage      string
	StatusCode int
	Err        error
}

func (e *RemoteServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s service call failed (status %d): %v", e.Stage, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s service call failed: %v", e.Stage, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

// Class implements the classified error contract.
func (e *RemoteServiceError) Class() Class { return ClassService }

// DomainError reports a nonzero error code returned by a stage on a 2xx response.
type DomainError struct {
	Stage string
	Code  int
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s stage returned error code %d", e.Stage, e.Code)
}

// Class implements the classified error contract.
func (e *DomainError) Class() Class { return ClassService }

// CheckErrorCode returns a DomainError when code is nonzero.
func CheckErrorCode(stage string, code int) error {
	if code != 0 {
		return &DomainError{Stage: stage, Code: code}
	}

	return nil
}

// ClassOf returns the class of the first classified error in err's chain.
// Unclassified errors are service faults.
func ClassOf(err error) Class {
	var classified interface{ Class() Class }
	if errors.As(err, &classified) {
		return classified.Class()
	}

	return ClassService
}
