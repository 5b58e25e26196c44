package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrAuthRequired = errors.New("authentication required")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTransient    = errors.New("backend unavailable")
	ErrFatal        = errors.New("unexpected backend response")
	ErrCreateFailed = errors.New("create failed")
	ErrInvalidInput = errors.New("invalid input")
)

// Classify maps an arbitrary backend error onto the error taxonomy. Errors
// already carrying one of the sentinels are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrAuthRequired, ErrNotFound, ErrConflict, ErrTransient, ErrFatal, ErrCreateFailed, ErrInvalidInput} {
		if errors.Is(err, known) {
			return err
		}
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	// deadlines, network and driver errors
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// UserMessage renders a classified error the way the UI reports it.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthRequired):
		return "You must be logged in"
	case errors.Is(err, ErrNotFound):
		return "Invalid room code"
	case errors.Is(err, ErrConflict):
		return "Room code is ambiguous, contact support"
	case errors.Is(err, ErrInvalidInput):
		return "Please check your input"
	case errors.Is(err, ErrFatal):
		return "Something went wrong"
	default:
		return "Network error, please try again"
	}
}
