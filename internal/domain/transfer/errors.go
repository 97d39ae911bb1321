package transfer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/codec"
)

// Kind classifies a transfer failure.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindParse
	KindInvalidBackup
	KindExportFailed
	KindImportFailed
	KindPermission
	KindInternal
	KindUnauthenticated
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindParse:
		return "parse"
	case KindInvalidBackup:
		return "invalid_backup"
	case KindExportFailed:
		return "export_failed"
	case KindImportFailed:
		return "import_failed"
	case KindPermission:
		return "permission"
	case KindInternal:
		return "internal"
	case KindUnauthenticated:
		return "unauthenticated"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// HTTPStatus is the response code used when an error of this kind aborts a
// request.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInternal:
		return http.StatusInternalServerError
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

const (
	msgInvalidRequest = "Invalid request data"
	msgInternal       = "Internal server error"
	msgPermission     = "Insufficient permissions"
)

// Error is returned by every orchestrator. Message is safe to show to the
// caller; Err holds the underlying cause and is only logged.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindInternal
}

func validationError(details ...string) *Error {
	return &Error{Kind: KindValidation, Message: msgInvalidRequest, Details: details}
}

func unauthenticated() *Error {
	return &Error{Kind: KindUnauthenticated, Message: "Authentication required"}
}

func permissionError() *Error {
	return &Error{Kind: KindPermission, Message: msgPermission}
}

// classify maps a domain or codec error onto a transfer Error. Domain
// rejections become rejectKind; anything unrecognised is internal.
func classify(err error, rejectKind Kind) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}

	var rej *encounter.RejectionError
	switch {
	case errors.Is(err, codec.ErrParse):
		return &Error{Kind: KindParse, Message: "Invalid data format", Details: []string{err.Error()}, Err: err}
	case errors.Is(err, codec.ErrInvalidBackupStructure):
		return &Error{Kind: KindInvalidBackup, Message: "Invalid backup structure", Details: []string{err.Error()}, Err: err}
	case errors.Is(err, codec.ErrUnsupportedFormat):
		return &Error{Kind: KindValidation, Message: msgInvalidRequest, Details: []string{err.Error()}, Err: err}
	case errors.As(err, &rej):
		return &Error{Kind: rejectKind, Message: rej.Message, Details: rej.Details, Err: err}
	case errors.Is(err, encounter.ErrNotFound):
		return &Error{Kind: rejectKind, Message: "Encounter not found", Err: err}
	case errors.Is(err, encounter.ErrCharacterNotFound):
		return &Error{Kind: rejectKind, Message: "Character not found", Err: err}
	case errors.Is(err, encounter.ErrAccessDenied):
		return &Error{Kind: rejectKind, Message: "Access denied", Err: err}
	default:
		return &Error{Kind: KindInternal, Message: msgInternal, Err: err}
	}
}

// publicMessage is the text recorded for a failed item in a multi-item
// response.
func publicMessage(err *Error) string {
	if err.Kind == KindInternal {
		return msgInternal
	}
	if len(err.Details) > 0 && err.Kind != KindParse && err.Kind != KindInvalidBackup {
		return err.Message + ": " + strings.Join(err.Details, "; ")
	}
	return err.Message
}
