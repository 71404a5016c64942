package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDGeneratesUUID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	assert.Equal(t, seen, rr.Header().Get("X-Request-ID"))
}

func TestRequestIDReusesAndTruncatesClientValue(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "abc", seen)

	req.Header.Set("X-Request-ID", strings.Repeat("x", 500))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Len(t, seen, maxRequestIDLen)
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		remote string
		want   string
	}{
		{"header wins", "tenant-1", "10.0.0.1:5555", "tenant-1"},
		{"remote ip without port", "", "10.0.0.1:5555", "10.0.0.1"},
		{"ipv6", "", "[::1]:80", "::1"},
		{"unparseable remote kept", "", "pipe", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := ClientID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = GetClientID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.header != "" {
				req.Header.Set("X-Client-ID", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.want, seen)
		})
	}
}

func TestRequestLoggerInjectsContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	h := RequestID(ClientID(RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))))

	req := httptest.NewRequest(http.MethodGet, "/api/query", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("X-Client-ID", "client-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var inner, access map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &inner))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &access))

	assert.Equal(t, "inside", inner["message"])
	assert.Equal(t, "req-1", inner["request_id"])
	assert.Equal(t, "client-1", inner["client_id"])

	assert.Equal(t, "request", access["message"])
	assert.Equal(t, "/api/query", access["path"])
	assert.EqualValues(t, 404, access["status"])
	assert.EqualValues(t, 4, access["bytes"])
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "budgets are per client")
	assert.Equal(t, 2, rl.Clients())
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	defer rl.Stop()

	h := ClientID(rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, second.Body.String())
}

func TestRateLimiterReapsStaleClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Stop()

	rl.Allow("old")
	rl.reapStale(time.Now().Add(time.Minute))
	assert.Zero(t, rl.Clients())
	rl.Stop()
}

func TestBodyLimit(t *testing.T) {
	var readErr error
	h := BodyLimit(8)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("session_id=0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/", io.NopCloser(strings.NewReader("session_id=0123456789")))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Error(t, readErr)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok=1"))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NoError(t, readErr)
}
