package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxRetriesExceeded is returned when every attempt of a call asked for a retry.
	ErrMaxRetriesExceeded = errors.New("too many retries")
	// ErrUnexpectedStructure is returned when the response is valid JSON but not an object.
	ErrUnexpectedStructure = errors.New("unexpected JSON structure")
)

// ParseError is returned when the completed response text is not valid JSON.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
