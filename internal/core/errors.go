// Package core provides the error taxonomy, error classification and result
// envelope shared by every external data access component.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorKind is the closed taxonomy every raw error is mapped onto.
type ErrorKind string

const (
	// KindNetwork indicates the request was sent but no response arrived
	KindNetwork ErrorKind = "NETWORK"
	// KindAuth indicates missing or rejected credentials (401)
	KindAuth ErrorKind = "AUTH"
	// KindValidation indicates the input was rejected (400)
	KindValidation ErrorKind = "VALIDATION"
	// KindNotFound indicates the requested resource does not exist (404)
	KindNotFound ErrorKind = "NOT_FOUND"
	// KindPermission indicates the caller is not allowed to perform the operation (403)
	KindPermission ErrorKind = "PERMISSION"
	// KindTimeout indicates the upstream or the transport timed out (408, 504)
	KindTimeout ErrorKind = "TIMEOUT"
	// KindServer indicates an upstream server failure (500, 502, 503)
	KindServer ErrorKind = "SERVER"
	// KindUnknown is used for anything the classifier does not recognise
	KindUnknown ErrorKind = "UNKNOWN"
)

// userMessages holds one fixed end-user message per kind.
var userMessages = map[ErrorKind]string{
	KindNetwork:    "Connection problem. Check your internet connection and try again.",
	KindAuth:       "Your session has expired. Please sign in again.",
	KindValidation: "Some of the information provided is invalid. Please review it and try again.",
	KindNotFound:   "The requested information could not be found.",
	KindPermission: "You do not have permission to perform this action.",
	KindTimeout:    "The request took too long to complete. Please try again.",
	KindServer:     "The service is temporarily unavailable. Please try again in a few moments.",
	KindUnknown:    "An unexpected error occurred. Please try again.",
}

// Retryable reports whether errors of this kind are transient.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	}
	return false
}

// UserMessage returns the fixed, human-readable message for the kind.
func (k ErrorKind) UserMessage() string {
	if msg, ok := userMessages[k]; ok {
		return msg
	}
	return userMessages[KindUnknown]
}

// HTTPStatus returns the status code a server should answer with for the kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindNetwork, KindServer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DefaultRetryableKinds returns the kinds the retry engine retries by default.
func DefaultRetryableKinds() []ErrorKind {
	return []ErrorKind{KindNetwork, KindTimeout, KindServer}
}

// StatusKind maps an HTTP status code onto the taxonomy.
func StatusKind(status int) ErrorKind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return KindServer
	default:
		return KindUnknown
	}
}

// Error is a recognised domain error that already carries its kind.
type Error struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Service    string    `json:"service,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Service, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	return e.Kind.HTTPStatus()
}

// NewError creates a domain error of the given kind.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewValidationError creates a validation error (400)
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message, StatusCode: http.StatusBadRequest}
}

// NewNotFoundError creates a not found error (404)
func NewNotFoundError(service, message string) *Error {
	return &Error{Kind: KindNotFound, Message: message, StatusCode: http.StatusNotFound, Service: service}
}

// NewAuthError creates an authentication error (401)
func NewAuthError(service, message string) *Error {
	return &Error{Kind: KindAuth, Message: message, StatusCode: http.StatusUnauthorized, Service: service}
}

// NewPermissionError creates a permission error (403)
func NewPermissionError(service, message string) *Error {
	return &Error{Kind: KindPermission, Message: message, StatusCode: http.StatusForbidden, Service: service}
}

// NewServerError creates an upstream server error (5xx)
func NewServerError(service string, statusCode int, message string, err error) *Error {
	return &Error{Kind: KindServer, Message: message, StatusCode: statusCode, Service: service, Err: err}
}

// ResponseError is returned when an upstream answered with a non-2xx status.
type ResponseError struct {
	Service    string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *ResponseError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("[%s] status %d: %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// TransportError is returned when a request was sent but no response arrived.
type TransportError struct {
	Service string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("[%s] no response: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("no response: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ParseResponseError builds a ResponseError from an upstream error body,
// extracting a message from the common JSON error shapes.
func ParseResponseError(service string, statusCode int, body []byte) *ResponseError {
	message := strings.TrimSpace(string(body))
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "error", "detail"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				message = v.String()
				break
			}
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	return &ResponseError{
		Service:    service,
		StatusCode: statusCode,
		Message:    message,
		Body:       body,
	}
}

// ParsedError is the normalised description of a raw error.
type ParsedError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Retryable  bool      `json:"retryable"`
	// Detail is the raw technical message; only shown outside production.
	Detail string `json:"detail,omitempty"`
}

// UserMessage returns the message for end users, optionally followed by the
// technical detail.
func (p ParsedError) UserMessage(includeDetail bool) string {
	if includeDetail && p.Detail != "" {
		return p.Message + " (" + p.Detail + ")"
	}
	return p.Message
}

// Classify maps a raw error onto the taxonomy.
func Classify(err error) ParsedError {
	kind, status := classifyKind(err)
	parsed := ParsedError{
		Kind:       kind,
		Message:    kind.UserMessage(),
		StatusCode: status,
		Retryable:  kind.Retryable(),
	}
	if err != nil {
		parsed.Detail = err.Error()
	}
	return parsed
}

func classifyKind(err error) (ErrorKind, int) {
	if err == nil {
		return KindUnknown, 0
	}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind, domainErr.StatusCode
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return StatusKind(respErr.StatusCode), respErr.StatusCode
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout, 0
	}

	if errors.Is(err, context.Canceled) {
		return KindUnknown, 0
	}

	var transportErr *TransportError
	var opErr *net.OpError
	var urlErr *url.Error
	if errors.As(err, &transportErr) || errors.As(err, &opErr) || errors.As(err, &urlErr) {
		return KindNetwork, 0
	}

	return KindUnknown, 0
}
