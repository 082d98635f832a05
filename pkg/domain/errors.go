package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrFormatMismatch  = errors.New("input format mismatch")
	ErrEmptyInput      = errors.New("input is empty")
	ErrInvalidPort     = errors.New("invalid port")
	ErrInvalidHost     = errors.New("invalid host")
	ErrInvalidPolicy   = errors.New("invalid protection policy")
	ErrTransport       = errors.New("gateway unreachable")
	ErrApplication     = errors.New("gateway rejected request")
	ErrSlotBusy        = errors.New("operation already in flight")
	ErrNothingToSubmit = errors.New("nothing to submit")
)

// ValidationReason names the rule a rejected input broke.
type ValidationReason string

// Validation reasons.
const (
	ReasonFormatMismatch ValidationReason = "format_mismatch"
	ReasonEmpty          ValidationReason = "empty"
)

// ValidationError is a local, pre-network rejection of operator input.
type ValidationError struct {
	Field   string
	Reason  ValidationReason
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	switch e.Reason {
	case ReasonFormatMismatch:
		return ErrFormatMismatch
	case ReasonEmpty:
		return ErrEmptyInput
	default:
		return nil
	}
}

// ConfigurationError reports a session setting that cannot be turned into a request.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies a failure surfaced on an operation slot.
type ErrorKind string

// Error kinds, in the order they can occur during one invocation.
const (
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindTransport     ErrorKind = "transport"
	KindApplication   ErrorKind = "application"
)

// GatewayError is the normalized form of any failure reported by the gateway call.
// Transport failures carry StatusCode 500 and the underlying error text;
// application failures carry the gateway's status and detail.
//
//nolint:revive // Name is intentionally verbose to distinguish gateway-layer errors
type GatewayError struct {
	Kind       ErrorKind
	StatusCode int
	Detail     string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *GatewayError) Unwrap() []error {
	sentinel := ErrApplication
	if e.Kind == KindTransport {
		sentinel = ErrTransport
	}
	if e.Err != nil {
		return []error{sentinel, e.Err}
	}
	return []error{sentinel}
}

// KindOf reports the ErrorKind of err, or "" when err is not one of the domain error types.
func KindOf(err error) ErrorKind {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return KindValidation
	}
	var cerr *ConfigurationError
	if errors.As(err, &cerr) {
		return KindConfiguration
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

// ErrorResponse is the JSON error model the gateway returns on non-2xx responses.
// Detail may be a plain string or a structured value.
type ErrorResponse struct {
	Detail any `json:"detail,omitempty"`
}
