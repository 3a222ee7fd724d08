// Package apierr defines the failures raised by the operation catalog client.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind int

const (
	// KindAPI covers transport failures, bad HTTP status, malformed bodies and
	// strict result errors.
	KindAPI Kind = iota
	// KindAddress is raised when an address is outside its catalog or does not
	// name a declared operation.
	KindAddress
	// KindParams is raised when a parameter envelope fails its guard.
	KindParams
)

// Default discriminator names per kind.
const (
	NameAPI     = "ApiError"
	NameAddress = "ApiURLError"
	NameParams  = "ApiParamsError"
)

// DefaultMessage is used by FromResult when no message is given.
const DefaultMessage = "an error occurred in the api"

func (k Kind) String() string {
	switch k {
	case KindAddress:
		return NameAddress
	case KindParams:
		return NameParams
	default:
		return NameAPI
	}
}

// Error is a structured failure from the client.
// Name is the discriminator; for failures derived from a result envelope it
// carries the server-declared result type.
type Error struct {
	Kind    Kind
	Name    string
	Message string
	// Status is the HTTP status code when the failure came from a response.
	Status int
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Name, e.Message, e.Cause)
	}
	return e.Name + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error of the given kind with its default name.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Name: kind.String(), Message: message}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Name: kind.String(), Message: message, Cause: cause}
}

// API creates a generic API failure.
func API(format string, args ...any) *Error {
	return New(KindAPI, fmt.Sprintf(format, args...))
}

// Address creates an address-invalid failure.
func Address(format string, args ...any) *Error {
	return New(KindAddress, fmt.Sprintf(format, args...))
}

// Params creates a parameters-invalid failure.
func Params(format string, args ...any) *Error {
	return New(KindParams, fmt.Sprintf(format, args...))
}

// FromResult builds a generic failure from a result envelope's type and errs
// fields. An empty msg uses DefaultMessage.
func FromResult(resultType, errs, msg string) *Error {
	if msg == "" {
		msg = DefaultMessage
	}
	if errs != "" {
		msg = msg + ", " + errs
	}
	e := New(KindAPI, msg)
	e.Name = resultType
	return e
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsAPI reports whether err's chain holds an *Error of any kind. Address and
// parameter failures are API failures too; use IsKind to tell them apart.
func IsAPI(err error) bool {
	_, ok := As(err)
	return ok
}

// IsKind reports whether err's chain holds an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// IsAddressInvalid reports whether err is an address-invalid failure.
func IsAddressInvalid(err error) bool {
	return IsKind(err, KindAddress)
}

// IsParamsInvalid reports whether err is a parameters-invalid failure.
func IsParamsInvalid(err error) bool {
	return IsKind(err, KindParams)
}
