// Package ctlerrors is the control plane's tagged error taxonomy (§7). Every
// layer (storage, proxy, workflow, dispatcher) reports failures as an *Error
// carrying a stable Kind/Code so the dispatcher can serialize a consistent
// {error, code} response without re-classifying causes by string matching.
//
// Modeled on the teacher's model.ProviderError (kind/code/message/cause with
// Unwrap) and runtime/agent/toolerrors.ToolError (message+cause chain
// preserved through errors.Is/As), merged into one taxonomy because this
// system has a single external error envelope rather than toolerrors' nested
// agent-as-tool chain.
package ctlerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into the closed set §7 defines.
type Kind string

const (
	KindValidation   Kind = "VALIDATION"
	KindNotFound     Kind = "NOT_FOUND"
	KindStorageRead  Kind = "STORAGE_READ"
	KindStorageWrite Kind = "STORAGE_WRITE"
	KindConflict     Kind = "CONFLICT"
	KindProxy        Kind = "PROXY"
	KindWorkflow     Kind = "WORKFLOW"
	KindInternal     Kind = "INTERNAL"
)

// Error is the structured failure type every package in this module returns
// for an error condition the dispatcher or proxy must classify.
type Error struct {
	kind    Kind
	code    string
	message string
	cause   error
}

// New constructs an Error with no cause.
func New(kind Kind, code, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

// Newf formats message like fmt.Sprintf.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

// Wrap attaches kind/code/message to an underlying cause, preserving it for
// errors.Is/As via Unwrap.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{kind: kind, code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

// Unwrap preserves the cause chain.
func (e *Error) Unwrap() error { return e.cause }

// Kind returns the coarse classification.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the stable machine-readable error code.
func (e *Error) Code() string { return e.code }

// As returns the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// StorageReadErrorf builds the §4.2 "Storage Read Error(cause)" shape.
func StorageReadErrorf(format string, args ...any) *Error {
	return New(KindStorageRead, "STORAGE_READ_ERROR", fmt.Sprintf(format, args...))
}

// StorageWriteErrorf builds the §4.2 "Storage Write Error" shape.
func StorageWriteErrorf(format string, args ...any) *Error {
	return New(KindStorageWrite, "STORAGE_WRITE_ERROR", fmt.Sprintf(format, args...))
}
