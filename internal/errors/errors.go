package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies an engine error. Callers branch on the kind, never on the message.
type Kind string

const (
	KindObjectNotFound    Kind = "OBJECT_NOT_FOUND"
	KindCorruptObject     Kind = "CORRUPT_OBJECT"
	KindRefNotFound       Kind = "REF_NOT_FOUND"
	KindNonFastForward    Kind = "NON_FAST_FORWARD"
	KindCommitNotFound    Kind = "COMMIT_NOT_FOUND"
	KindRepoNotFound      Kind = "REPO_NOT_FOUND"
	KindAtomicWriteFailed Kind = "ATOMIC_WRITE_FAILED"
	KindMergeConflict     Kind = "MERGE_CONFLICT"
	KindConflict          Kind = "CONFLICT"
	KindAuthRequired      Kind = "AUTH_REQUIRED"
	KindPermissionDenied  Kind = "PERMISSION_DENIED"
	KindAlreadyExists     Kind = "ALREADY_EXISTS"
	KindValidation        Kind = "VALIDATION"
	KindInternal          Kind = "INTERNAL"
)

var codes = map[Kind]int{
	KindObjectNotFound:    http.StatusNotFound,
	KindCorruptObject:     http.StatusInternalServerError,
	KindRefNotFound:       http.StatusNotFound,
	KindNonFastForward:    http.StatusConflict,
	KindCommitNotFound:    http.StatusNotFound,
	KindRepoNotFound:      http.StatusNotFound,
	KindAtomicWriteFailed: http.StatusInternalServerError,
	KindMergeConflict:     http.StatusConflict,
	KindConflict:          http.StatusConflict,
	KindAuthRequired:      http.StatusUnauthorized,
	KindPermissionDenied:  http.StatusForbidden,
	KindAlreadyExists:     http.StatusConflict,
	KindValidation:        http.StatusBadRequest,
	KindInternal:          http.StatusInternalServerError,
}

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an error of the given kind. Code is the conventional HTTP status so a
// transport layer can map errors without its own table.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Code:    codeOf(kind),
	}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	e := New(kind, format, args...)
	e.Err = err
	return e
}

// WithDetails attaches structured details and returns the same error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func codeOf(kind Kind) int {
	if c, ok := codes[kind]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err's chain carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// DetailsOf returns the details of the first *Error in err's chain.
func DetailsOf(err error) any {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Details
	}
	return nil
}

func ObjectNotFound(id string) *Error {
	return New(KindObjectNotFound, "object not found: %s", id)
}

func CorruptObject(id string, err error) *Error {
	return Wrap(KindCorruptObject, err, "corrupt object %s", id)
}

func RefNotFound(name string) *Error {
	return New(KindRefNotFound, "ref not found: %s", name)
}

func NonFastForward(name, current, target string) *Error {
	return New(KindNonFastForward, "ref %s: %s is not a fast-forward of %s", name, target, current)
}

func CommitNotFound(id string) *Error {
	return New(KindCommitNotFound, "commit not found: %s", id)
}

func RepoNotFound(id string) *Error {
	return New(KindRepoNotFound, "repository not found: %s", id)
}

func AtomicWriteFailed(path string, err error) *Error {
	return Wrap(KindAtomicWriteFailed, err, "atomic write %s", path)
}

func AuthRequired(message string) *Error {
	return New(KindAuthRequired, "authentication required: %s", message)
}

func PermissionDenied(message string) *Error {
	return New(KindPermissionDenied, "permission denied: %s", message)
}

func AlreadyExists(message string) *Error {
	return New(KindAlreadyExists, "already exists: %s", message)
}

func ValidationError(message string, details any) *Error {
	return New(KindValidation, "%s", message).WithDetails(details)
}

func Internal(message string, err error) *Error {
	return Wrap(KindInternal, err, "%s", message)
}
