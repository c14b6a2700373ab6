package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrodata/internal/core"
	"agrodata/internal/lookups"
)

func TestRequestIDMiddleware(t *testing.T) {
	srv := New(Deps{Lookups: &mockLookups{}}, nil)

	t.Run("generates request ID when missing", func(t *testing.T) {
		rec := serve(t, srv, http.MethodGet, "/health")

		got := rec.Header().Get("X-Request-ID")
		require.NotEmpty(t, got)
		// UUID format (8-4-4-4-12 hex digits)
		assert.Len(t, got, 36)
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		assert.Equal(t, "my-custom-id", rec.Header().Get("X-Request-ID"))
	})
}

func TestRequestIDReachesLookups(t *testing.T) {
	mock := &mockLookups{address: core.FromNetwork(lookups.Address{})}
	srv := New(Deps{Lookups: mock}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/postal-codes/01310100", nil)
	req.Header.Set("X-Request-ID", "req-42")
	srv.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-42", mock.lastRequestID)
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
		expectBody     string // substring to check in response body
	}{
		{
			name:           "metrics enabled - default endpoint accessible",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics enabled - empty endpoint defaults to /metrics",
			config:         &Config{MetricsEnabled: true},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics disabled - endpoint returns 404",
			config:         &Config{MetricsEnabled: false, MetricsEndpoint: "/metrics"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "nil config - metrics disabled by default",
			config:         nil,
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "custom metrics endpoint path",
			config:         &Config{MetricsEnabled: true, MetricsEndpoint: "/internal/../custom-metrics"},
			requestPath:    "/custom-metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name:           "metrics skip authentication",
			config:         &Config{MetricsEnabled: true, MasterKey: "secret"},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(Deps{Lookups: &mockLookups{}}, tt.config)

			rec := serve(t, srv, http.MethodGet, tt.requestPath)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectBody != "" {
				assert.Contains(t, rec.Body.String(), tt.expectBody)
			}
		})
	}
}

func TestServer_MasterKey(t *testing.T) {
	mock := &mockLookups{address: core.FromNetwork(lookups.Address{PostalCode: "01310-100"})}
	srv := New(Deps{Lookups: mock}, &Config{MasterKey: "secret"})

	rec := serve(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code, "health is public")

	rec = serve(t, srv, http.MethodGet, "/v1/postal-codes/01310100")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/postal-codes/01310100", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RecoversFromPanics(t *testing.T) {
	srv := New(Deps{}, nil)

	rec := serve(t, srv, http.MethodGet, "/v1/regions/states")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
