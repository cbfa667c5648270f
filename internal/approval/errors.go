package approval

import (
	"errors"
	"fmt"
	"net/http"

	"bizops/internal/workflow"
)

// Sentinels for errors.Is. Every *Error unwraps to exactly one of them.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrLevelMismatch    = errors.New("level mismatch")
	ErrValidation       = errors.New("validation failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrOutOfSequence    = errors.New("out of sequence")
)

const (
	CodeNotFound         = "APPROVAL_NOT_FOUND"
	CodeParentNotFound   = "PARENT_NOT_FOUND"
	CodeForbidden        = "APPROVAL_FORBIDDEN"
	CodeAlreadyProcessed = "APPROVAL_ALREADY_PROCESSED"
	CodeChainFinalized   = "APPROVAL_CHAIN_FINALIZED"
	CodeChainStarted     = "APPROVAL_CHAIN_ALREADY_STARTED"
	CodeLevelMismatch    = "APPROVAL_LEVEL_MISMATCH"
	CodeValidation       = "VALIDATION_FAILED"
	CodeInactiveApprover = "APPROVER_INACTIVE"
	CodeMissingApprover  = "APPROVER_UNRESOLVED"
	CodeDuplicatePending = "DUPLICATE_PENDING_APPROVER"
	CodeUnauthorized     = "DELEGATION_UNAUTHORIZED"
	CodeEscalationDenied = "DELEGATION_ESCALATION_DENIED"
	CodeOutOfSequence    = "APPROVAL_OUT_OF_SEQUENCE"
)

// Error is an expected, caller-recoverable failure with enough context to explain itself.
type Error struct {
	Kind       error
	Code       string
	Message    string
	ParentKind workflow.Kind
	ParentID   string
	Level      string
}

func (e *Error) Error() string {
	if e.ParentID == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Level == "" {
		return fmt.Sprintf("%s: %s %s: %s", e.Code, e.ParentKind, e.ParentID, e.Message)
	}
	return fmt.Sprintf("%s: %s %s level %s: %s", e.Code, e.ParentKind, e.ParentID, e.Level, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func (e *Error) ErrorCode() string { return e.Code }

func (e *Error) PublicMessage() string { return e.Message }

// HTTPStatus maps the error kind onto a response status.
func (e *Error) HTTPStatus() int {
	switch {
	case errors.Is(e.Kind, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(e.Kind, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(e.Kind, ErrAlreadyProcessed),
		errors.Is(e.Kind, ErrLevelMismatch),
		errors.Is(e.Kind, ErrOutOfSequence):
		return http.StatusConflict
	case errors.Is(e.Kind, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(e.Kind, ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Params is the structured context handed to API clients.
func (e *Error) Params() map[string]any {
	p := map[string]any{}
	if e.ParentKind != "" {
		p["parentKind"] = e.ParentKind
	}
	if e.ParentID != "" {
		p["parentId"] = e.ParentID
	}
	if e.Level != "" {
		p["level"] = e.Level
	}
	return p
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

type scope struct {
	kind     workflow.Kind
	parentID string
	level    string
}

func (s scope) err(kind error, code, format string, args ...any) *Error {
	return &Error{
		Kind:       kind,
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		ParentKind: s.kind,
		ParentID:   s.parentID,
		Level:      s.level,
	}
}

func (s scope) at(level string) scope {
	s.level = level
	return s
}

// invalid is a validation failure carrying whatever parent context is already known.
func (s scope) invalid(format string, args ...any) *Error {
	return s.err(ErrValidation, CodeValidation, format, args...)
}
