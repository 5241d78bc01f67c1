// Package xerrors implements Epicenter's tagged-variant error taxonomy.
//
// Table operations, actions, and index manual operations return a
// Result[T] rather than a bare error, so the (Value, Err) pair travels
// together the way spec.md's Result<T, Error> does; constructors such as
// workspace.Build and epicenter.New return a plain error.
package xerrors

import (
	"errors"
	"fmt"
)

// Kind is a stable, branchable error tag.
type Kind string

const (
	KindValidation        Kind = "ValidationError"
	KindDuplicateID        Kind = "DuplicateId"
	KindNotFound           Kind = "NotFound"
	KindMissingDependency  Kind = "MissingDependency"
	KindDependencyCycle    Kind = "DependencyCycle"
	KindIndex              Kind = "IndexError"
	KindMarkdown           Kind = "MarkdownError"
	KindPersistence        Kind = "PersistenceError"
	KindHandler            Kind = "HandlerError"
)

// Error is a tagged error with structured context.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a tagged error with optional context.
func New(kind Kind, message string, context map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: context}
}

// Wrap builds a tagged error around a lower-level cause.
func Wrap(kind Kind, message string, cause error, context map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: context, cause: cause}
}

// Is makes errors.Is match when the target is also an *Error with the
// same Kind; to test an error against a bare Kind, use IsKind below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Result pairs a value with a tagged error, mirroring spec.md's
// Result<T, Error>.
type Result[T any] struct {
	Value T
	Err   *Error
}

// Ok builds a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

// Fail builds a failed Result.
func Fail[T any](err *Error) Result[T] { return Result[T]{Err: err} }

// IsOk reports whether the result carries no error.
func (r Result[T]) IsOk() bool { return r.Err == nil }
