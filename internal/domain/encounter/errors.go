package encounter

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("encounter not found")
	ErrCharacterNotFound = errors.New("character not found")
	ErrAccessDenied      = errors.New("access denied")
)

// RejectionError is a business-rule failure. Its message is safe to show to
// the caller.
type RejectionError struct {
	Message string
	Details []string
}

func (e *RejectionError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return e.Message + ": " + strings.Join(e.Details, "; ")
}

func reject(msg string, details ...string) error {
	return &RejectionError{Message: msg, Details: details}
}

// IsRejection reports whether err is a domain-level refusal rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCharacterNotFound) ||
		errors.Is(err, ErrAccessDenied)
}
