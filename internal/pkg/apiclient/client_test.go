package apiclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agrodata/internal/core"
)

func TestClient_Do_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/01310100/json/", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"localidade":"São Paulo"}`))
	}))
	defer server.Close()

	client := New(DefaultConfig("viacep", server.URL), nil)

	var result struct {
		City string `json:"localidade"`
	}
	err := client.Do(context.Background(), Request{Endpoint: "/ws/01310100/json/"}, &result)

	require.NoError(t, err)
	assert.Equal(t, "São Paulo", result.City)
}

func TestClient_Do_QueryAndHeaders(t *testing.T) {
	var received *http.Request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = r.Clone(context.Background())
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(
		DefaultConfig("openweather", server.URL+"/"),
		func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer token")
		},
	)

	err := client.Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/weather",
		Query:    url.Values{"q": {"Cuiabá,BR"}, "units": {"metric"}},
		Headers:  map[string]string{"X-Custom": "custom-value"},
	}, nil)

	require.NoError(t, err)
	require.NotNil(t, received)
	assert.Equal(t, "/weather", received.URL.Path)
	assert.Equal(t, "Cuiabá,BR", received.URL.Query().Get("q"))
	assert.Equal(t, "metric", received.URL.Query().Get("units"))
	assert.Equal(t, "Bearer token", received.Header.Get("Authorization"))
	assert.Equal(t, "custom-value", received.Header.Get("X-Custom"))
	assert.Equal(t, "gzip, br", received.Header.Get("Accept-Encoding"))
}

func TestClient_DoRaw_Decoding(t *testing.T) {
	payload := []byte(`{"nome":"Mato Grosso","sigla":"MT"}`)

	encode := map[string]func(t *testing.T) []byte{
		"gzip": func(t *testing.T) []byte {
			var buf bytes.Buffer
			w := gzip.NewWriter(&buf)
			_, err := w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			return buf.Bytes()
		},
		"br": func(t *testing.T) []byte {
			var buf bytes.Buffer
			w := brotli.NewWriter(&buf)
			_, err := w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())
			return buf.Bytes()
		},
		"": func(*testing.T) []byte { return payload },
	}

	for encoding, fn := range encode {
		t.Run("encoding="+encoding, func(t *testing.T) {
			body := fn(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if encoding != "" {
					w.Header().Set("Content-Encoding", encoding)
				}
				_, _ = w.Write(body)
			}))
			defer server.Close()

			client := New(DefaultConfig("ibge", server.URL), nil)
			resp, err := client.DoRaw(context.Background(), Request{Endpoint: "/estados/MT"})

			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, string(payload), string(resp.Body))
		})
	}
}

func TestClient_DoRaw_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantKind   core.ErrorKind
		wantMsg    string
	}{
		{"not found", http.StatusNotFound, `{"message":"CEP não encontrado"}`, core.KindNotFound, "CEP não encontrado"},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"Invalid API key"}}`, core.KindAuth, "Invalid API key"},
		{"forbidden", http.StatusForbidden, ``, core.KindPermission, "Forbidden"},
		{"bad request", http.StatusBadRequest, `{"error":"invalid city"}`, core.KindValidation, "invalid city"},
		{"unavailable", http.StatusServiceUnavailable, `upstream down`, core.KindServer, "upstream down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := New(Config{Service: "test", BaseURL: server.URL}, nil)
			_, err := client.DoRaw(context.Background(), Request{Endpoint: "/"})
			require.Error(t, err)

			var respErr *core.ResponseError
			require.True(t, errors.As(err, &respErr))
			assert.Equal(t, tt.statusCode, respErr.StatusCode)
			assert.Equal(t, tt.wantMsg, respErr.Message)
			assert.Equal(t, tt.wantKind, core.Classify(err).Kind)
		})
	}
}

func TestClient_DoRaw_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client := New(Config{Service: "ibge", BaseURL: baseURL}, nil)
	_, err := client.DoRaw(context.Background(), Request{Endpoint: "/"})

	require.Error(t, err)
	var transportErr *core.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, core.KindNetwork, core.Classify(err).Kind)
}

func TestClient_DoRaw_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := New(Config{Service: "openweather", BaseURL: server.URL, Timeout: 20 * time.Millisecond}, nil)
	_, err := client.DoRaw(context.Background(), Request{Endpoint: "/weather"})

	require.Error(t, err)
	assert.Equal(t, core.KindTimeout, core.Classify(err).Kind)
}

func TestClient_Do_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := New(Config{Service: "ibge", BaseURL: server.URL}, nil)
	var out map[string]any
	err := client.Do(context.Background(), Request{Endpoint: "/"}, &out)

	require.Error(t, err)
	assert.Equal(t, core.KindServer, core.Classify(err).Kind)
}

func TestClient_CircuitBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(DefaultConfig("agrolink", server.URL), nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	client.circuitBreaker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := client.DoRaw(context.Background(), Request{Endpoint: "/quotes"})
		require.Error(t, err)
	}
	assert.Equal(t, "open", client.circuitBreaker.State())

	_, err := client.DoRaw(context.Background(), Request{Endpoint: "/quotes"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "open circuit rejects without calling upstream")

	var domainErr *core.Error
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, core.KindServer, domainErr.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, domainErr.StatusCode)

	now = now.Add(5 * time.Minute)
	_, _ = client.DoRaw(context.Background(), Request{Endpoint: "/quotes"})
	assert.Equal(t, int32(4), calls.Load(), "a probe is allowed once the open period elapses")
	assert.Equal(t, "open", client.circuitBreaker.State())
}

func TestCircuitBreaker_States(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := newCircuitBreaker(2, 2, time.Minute)
	cb.now = func() time.Time { return now }

	assert.True(t, cb.Allow())
	assert.False(t, cb.RecordFailure())
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure(), "success resets the failure count")
	assert.True(t, cb.RecordFailure())
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.Allow())

	now = now.Add(time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, "half-open", cb.State())

	cb.RecordSuccess()
	assert.Equal(t, "half-open", cb.State())
	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(DefaultConfig("viacep", server.URL), nil)
	for i := 0; i < 5; i++ {
		_, _ = client.DoRaw(context.Background(), Request{Endpoint: "/"})
	}
	assert.Equal(t, "closed", client.circuitBreaker.State())
}
