package domain

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// HTTPError is an error that knows which status code it maps to.
type HTTPError interface {
	error
	StatusCode() int
}

// Sentinel errors, matched with errors.Is
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	ErrTimeout    = errors.New("timed out")
)

type (
	// ValidationError indicates invalid input
	ValidationError struct {
		Message string
		Fields  map[string]string
	}

	// NotFoundError indicates the target document does not exist
	NotFoundError struct {
		Resource string
		ID       string
	}

	// UploadError indicates a single asset upload failed
	UploadError struct {
		Filename string
		Err      error
	}

	// TimeoutError indicates an upload or the whole transaction ran out of time
	TimeoutError struct {
		Op  string
		Err error
	}

	// CommitError indicates the final create or patch failed after all uploads succeeded
	CommitError struct {
		Op  string
		Err error
	}

	// ConflictError indicates a concurrent edit or a duplicate submission
	ConflictError struct {
		Message    string
		ResourceID string
		Err        error
	}

	// IntegrityError indicates stored or submitted content violates a structural invariant
	IntegrityError struct {
		Message string
		Err     error
	}
)

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	names := make([]string, 0, len(e.Fields))
	for name, tag := range e.Fields {
		names = append(names, name+"="+tag)
	}
	sort.Strings(names)
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(names, ", "))
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload of %s failed: %v", e.Filename, e.Err)
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("%s commit failed: %v", e.Op, e.Err)
}

func (e *ConflictError) Error() string {
	return e.Message
}

func (e *IntegrityError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UploadError) Unwrap() error    { return e.Err }
func (e *TimeoutError) Unwrap() error   { return e.Err }
func (e *CommitError) Unwrap() error    { return e.Err }
func (e *ConflictError) Unwrap() error  { return e.Err }
func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
func (e *NotFoundError) Is(target error) bool   { return target == ErrNotFound }
func (e *ConflictError) Is(target error) bool   { return target == ErrConflict }
func (e *TimeoutError) Is(target error) bool    { return target == ErrTimeout }

func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }
func (e *NotFoundError) StatusCode() int   { return http.StatusNotFound }
func (e *UploadError) StatusCode() int     { return http.StatusBadGateway }
func (e *TimeoutError) StatusCode() int    { return http.StatusGatewayTimeout }
func (e *ConflictError) StatusCode() int   { return http.StatusConflict }
func (e *IntegrityError) StatusCode() int  { return http.StatusUnprocessableEntity }

// StatusCode of a commit failure follows a wrapped conflict.
func (e *CommitError) StatusCode() int {
	var conflict *ConflictError
	if errors.As(e.Err, &conflict) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

// TransactionError is what publishing operations return to callers. Cause
// keeps the original failure; the rollback counters describe the cleanup.
type TransactionError struct {
	Op               string
	ArticleID        string
	Message          string
	Cause            error
	RolledBack       int
	RollbackFailures int
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// StatusCode takes the status of the cause when it has one.
func (e *TransactionError) StatusCode() int {
	var httpErr HTTPError
	if errors.As(e.Cause, &httpErr) {
		return httpErr.StatusCode()
	}
	return http.StatusInternalServerError
}

// StatusCode returns the HTTP status for err, 500 when err carries none.
func StatusCode(err error) int {
	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode()
	}
	return http.StatusInternalServerError
}
