// Package errors provides the coded error taxonomy shared by the issuance pipeline.
//
// Every failure that crosses a component boundary carries a Code so callers can
// decide policy (abort a batch, skip a certificate, retry with a fresh code)
// without matching on message text.
//
//	err := errors.New(errors.CodeTemplateMissing, "company %d has no background", id)
//	if errors.Is(err, errors.CodeTemplateMissing) {
//	    // abort
//	}
package errors

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeTemplateMissing means no background is configured or it cannot be found.
	CodeTemplateMissing Code = "TEMPLATE_MISSING"
	// CodeTemplateInvalid means the background is corrupt or has a zero dimension.
	CodeTemplateInvalid Code = "TEMPLATE_INVALID"
	// CodeAssetMissing means a logo or signature image does not exist.
	CodeAssetMissing Code = "ASSET_MISSING"
	// CodeRenderFailure means the rendering engine or upload of its output failed.
	CodeRenderFailure Code = "RENDER_FAILURE"
	// CodePersistenceFailure means a database write failed after a successful render.
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
	// CodeCodeCollision means a generated certificate code already exists.
	CodeCodeCollision Code = "CODE_COLLISION"

	CodeNotFound     Code = "NOT_FOUND"
	CodeInvalidInput Code = "INVALID_INPUT"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around cause. A nil cause yields nil.
func Wrap(code Code, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// CodeOf returns the code of the outermost coded error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
