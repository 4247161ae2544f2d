// Package domainerrors carries coded errors across service boundaries.
// Services translate infrastructure sentinels (pkg/platform/sentinel) into
// these; the HTTP and socket transports translate them into wire responses.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for propagation decisions. Peer-caused codes are
// rejected back to the counterparty; operational codes are retryable or
// alert-worthy, and monitoring alerts only on those.
type Code string

const (
	// Peer or caller faults. Never retried, always surfaced.
	CodeInvalidInput         Code = "invalid_input"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeInvalidMessageFormat Code = "invalid_message_format"
	CodeDuplicate            Code = "duplicate"
	CodeTimeTravel           Code = "time_travel"
	CodeNotFound             Code = "not_found"
	CodeHandshakeFailed      Code = "handshake_failed"

	// Operational conditions.
	CodeUnreachable  Code = "client_unreachable"
	CodeLowFunds     Code = "low_funds"
	CodeTimeout      Code = "timeout"
	CodeCloudService Code = "cloud_service" // retryable by the caller/queue
	CodeInternal     Code = "internal"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost code, or CodeInternal for uncoded errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Retryable reports whether the caller may safely retry the failed operation.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeCloudService, CodeTimeout:
		return true
	}
	return false
}

// HTTPStatus maps a code to the status the HTTP transport responds with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidInput, CodeInvalidMessageFormat:
		return http.StatusBadRequest
	case CodeInvalidSignature, CodeHandshakeFailed:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeDuplicate, CodeTimeTravel:
		return http.StatusConflict
	case CodeUnreachable:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeLowFunds, CodeCloudService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
