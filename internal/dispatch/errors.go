package dispatch

import (
	"errors"
	"fmt"

	"github.com/HendryAvila/warden/internal/covenant"
	"github.com/HendryAvila/warden/internal/memory"
	"github.com/HendryAvila/warden/internal/registry"
)

// Error codes reported to callers.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeCommunionRequired = covenant.CodeCommunionRequired
	CodeCounselRequired   = covenant.CodeCounselRequired
	CodeStorage           = "STORAGE_ERROR"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

// Error is the structured failure of one operation.
type Error struct {
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Field   string             `json:"field,omitempty"`
	Remedy  string             `json:"remedy,omitempty"`
	State   *covenant.Snapshot `json:"state,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError is a malformed or out-of-range request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// toError maps a capability or infrastructure error onto a structured
// error. The second result reports whether the failure was unexpected.
func toError(err error) (*Error, bool) {
	var (
		de *Error
		ve *ValidationError
		cv *covenant.Violation
	)
	switch {
	case errors.As(err, &de):
		return de, false
	case errors.As(err, &ve):
		return &Error{Code: CodeValidation, Field: ve.Field, Message: ve.Message}, false
	case errors.As(err, &cv):
		st := cv.State
		return &Error{Code: cv.Code, Message: cv.Message, Remedy: cv.Remedy, State: &st}, false
	case errors.Is(err, memory.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}, false
	case errors.Is(err, memory.ErrSelfRelation):
		return &Error{Code: CodeValidation, Field: "to_id", Message: err.Error()}, false
	case errors.Is(err, memory.ErrDuplicateRelation):
		return &Error{Code: CodeValidation, Field: "to_id", Message: err.Error()}, false
	case errors.Is(err, registry.ErrInvalidPath):
		return &Error{Code: CodeValidation, Field: "project_path", Message: err.Error()}, false
	case errors.Is(err, registry.ErrClosed):
		return &Error{Code: CodeUnavailable, Message: err.Error()}, false
	case errors.Is(err, memory.ErrTransient):
		return &Error{Code: CodeStorage, Message: err.Error()}, true
	default:
		return &Error{Code: CodeInternal, Message: err.Error()}, true
	}
}
