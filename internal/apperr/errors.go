// Package apperr defines the failure taxonomy shared by the credential,
// identity and token packages and interpreted by the webhook endpoint.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure in the certificate-to-token pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindCertificateParse
	KindIdentityConstruction
	KindTransport
	KindAuthentication
	KindProtocol
)

// String returns a stable, log-friendly name for the kind.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindCertificateParse:
		return "certificate_parse"
	case KindIdentityConstruction:
		return "identity_construction"
	case KindTransport:
		return "transport"
	case KindAuthentication:
		return "authentication"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind. Match with errors.Is.
var (
	ErrConfiguration        = &Error{Kind: KindConfiguration}
	ErrCertificateParse     = &Error{Kind: KindCertificateParse}
	ErrIdentityConstruction = &Error{Kind: KindIdentityConstruction}
	ErrTransport            = &Error{Kind: KindTransport}
	ErrAuthentication       = &Error{Kind: KindAuthentication}
	ErrProtocol             = &Error{Kind: KindProtocol}
)

// Error is a classified pipeline failure.
//
// Message and Detail are safe to surface to callers. Cause may carry library
// errors and is only used for logs and errors.Is/As chains; it must never be
// built from secret material.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Detail  any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates a classified error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates a classified error around cause.
func Wrap(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Public returns the caller-safe message and detail for err, without the cause.
func Public(err error) (string, any) {
	var e *Error
	if !errors.As(err, &e) {
		return "", nil
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String() + " error"
	}
	return msg, e.Detail
}
