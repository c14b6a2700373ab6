package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "error with service",
			err:      &Error{Kind: KindServer, Message: "upstream error", Service: "viacep"},
			expected: "[viacep] SERVER: upstream error",
		},
		{
			name:     "error without service",
			err:      &Error{Kind: KindValidation, Message: "bad postal code"},
			expected: "VALIDATION: bad postal code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := NewError(KindServer, "wrapped error", originalErr)

	if unwrapped := err.Unwrap(); unwrapped != originalErr {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, originalErr)
	}
}

func TestError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected int
	}{
		{"explicit status code", &Error{Kind: KindServer, StatusCode: http.StatusServiceUnavailable}, http.StatusServiceUnavailable},
		{"validation default", &Error{Kind: KindValidation}, http.StatusBadRequest},
		{"auth default", &Error{Kind: KindAuth}, http.StatusUnauthorized},
		{"permission default", &Error{Kind: KindPermission}, http.StatusForbidden},
		{"not found default", &Error{Kind: KindNotFound}, http.StatusNotFound},
		{"timeout default", &Error{Kind: KindTimeout}, http.StatusGatewayTimeout},
		{"server default", &Error{Kind: KindServer}, http.StatusBadGateway},
		{"unknown kind", &Error{Kind: ErrorKind("bogus")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestStatusKind(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{400, KindValidation},
		{401, KindAuth},
		{403, KindPermission},
		{404, KindNotFound},
		{408, KindTimeout},
		{500, KindServer},
		{502, KindServer},
		{503, KindServer},
		{504, KindTimeout},
		{429, KindUnknown},
		{418, KindUnknown},
		{0, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusKind(tt.status))
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	connRefused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	tests := []struct {
		name          string
		err           error
		wantKind      ErrorKind
		wantRetryable bool
		wantStatus    int
	}{
		{
			name:     "404 response is not found",
			err:      ParseResponseError("viacep", http.StatusNotFound, []byte(`{"message":"missing"}`)),
			wantKind: KindNotFound, wantRetryable: false, wantStatus: 404,
		},
		{
			name:     "503 response is server",
			err:      ParseResponseError("ibge", http.StatusServiceUnavailable, nil),
			wantKind: KindServer, wantRetryable: true, wantStatus: 503,
		},
		{
			name:     "401 response is auth",
			err:      ParseResponseError("agrolink", http.StatusUnauthorized, nil),
			wantKind: KindAuth, wantRetryable: false, wantStatus: 401,
		},
		{
			name:     "504 response is timeout",
			err:      ParseResponseError("openweather", http.StatusGatewayTimeout, nil),
			wantKind: KindTimeout, wantRetryable: true, wantStatus: 504,
		},
		{
			name:     "connection failure without response is network",
			err:      &TransportError{Service: "viacep", Err: connRefused},
			wantKind: KindNetwork, wantRetryable: true,
		},
		{
			name:     "bare net.OpError is network",
			err:      connRefused,
			wantKind: KindNetwork, wantRetryable: true,
		},
		{
			name:     "transport timeout is timeout",
			err:      &TransportError{Err: timeoutErr{}},
			wantKind: KindTimeout, wantRetryable: true,
		},
		{
			name:     "deadline exceeded is timeout",
			err:      fmt.Errorf("fetch: %w", context.DeadlineExceeded),
			wantKind: KindTimeout, wantRetryable: true,
		},
		{
			name:     "cancellation is unknown",
			err:      &TransportError{Err: context.Canceled},
			wantKind: KindUnknown, wantRetryable: false,
		},
		{
			name:     "domain error keeps its kind",
			err:      NewValidationError("postal code must have 8 digits"),
			wantKind: KindValidation, wantRetryable: false, wantStatus: 400,
		},
		{
			name:     "wrapped domain error keeps its kind",
			err:      fmt.Errorf("lookup: %w", NewPermissionError("receita", "denied")),
			wantKind: KindPermission, wantRetryable: false, wantStatus: 403,
		},
		{
			name:     "plain error is unknown",
			err:      errors.New("boom"),
			wantKind: KindUnknown, wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := Classify(tt.err)
			assert.Equal(t, tt.wantKind, parsed.Kind)
			assert.Equal(t, tt.wantRetryable, parsed.Retryable)
			assert.Equal(t, tt.wantStatus, parsed.StatusCode)
			assert.Equal(t, tt.wantKind.UserMessage(), parsed.Message)
			assert.Equal(t, tt.err.Error(), parsed.Detail)
		})
	}
}

func TestClassify_Nil(t *testing.T) {
	parsed := Classify(nil)
	assert.Equal(t, KindUnknown, parsed.Kind)
	assert.False(t, parsed.Retryable)
	assert.Empty(t, parsed.Detail)
}

func TestUserMessagesAreFixedPerKind(t *testing.T) {
	kinds := []ErrorKind{KindNetwork, KindAuth, KindValidation, KindNotFound, KindPermission, KindTimeout, KindServer, KindUnknown}
	seen := make(map[string]ErrorKind)
	for _, k := range kinds {
		msg := k.UserMessage()
		require.NotEmpty(t, msg, "kind %s", k)
		if other, dup := seen[msg]; dup {
			t.Errorf("kinds %s and %s share message %q", k, other, msg)
		}
		seen[msg] = k
	}

	a := Classify(ParseResponseError("a", 500, []byte("first")))
	b := Classify(ParseResponseError("b", 502, []byte("second")))
	assert.Equal(t, a.Message, b.Message)
	assert.NotEqual(t, a.Detail, b.Detail)
}

func TestParsedError_UserMessage(t *testing.T) {
	parsed := Classify(ParseResponseError("ibge", 503, []byte(`{"error":{"message":"maintenance"}}`)))

	assert.Equal(t, KindServer.UserMessage(), parsed.UserMessage(false))
	assert.Contains(t, parsed.UserMessage(true), "maintenance")
}

func TestParseResponseError(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantMessage string
	}{
		{"nested error message", `{"error":{"message":"Invalid API key"}}`, "Invalid API key"},
		{"top level message", `{"message":"city not found","cod":"404"}`, "city not found"},
		{"string error", `{"error":"quota exceeded"}`, "quota exceeded"},
		{"plain text body", "Bad Gateway from upstream", "Bad Gateway from upstream"},
		{"empty body", "", "Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := http.StatusBadGateway
			if tt.body == "" {
				status = http.StatusNotFound
			}
			err := ParseResponseError("svc", status, []byte(tt.body))
			assert.Equal(t, tt.wantMessage, err.Message)
			assert.Equal(t, status, err.StatusCode)
			assert.Equal(t, "svc", err.Service)
		})
	}
}

func TestDefaultRetryableKinds(t *testing.T) {
	for _, k := range DefaultRetryableKinds() {
		assert.True(t, k.Retryable(), "kind %s", k)
	}
	assert.Len(t, DefaultRetryableKinds(), 3)
}
