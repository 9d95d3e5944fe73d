package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	return rec
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/health")(ok)

	cases := []struct {
		name   string
		path   string
		header map[string]string
		want   int
	}{
		{"public path", "/health", nil, http.StatusTeapot},
		{"missing", "/backtests", nil, http.StatusUnauthorized},
		{"bearer", "/backtests", map[string]string{"Authorization": "Bearer secret"}, http.StatusTeapot},
		{"api key header", "/backtests", map[string]string{"X-API-Key": "secret"}, http.StatusTeapot},
		{"wrong", "/backtests", map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized},
		{"query ignored without upgrade", "/backtests?api_key=secret", nil, http.StatusUnauthorized},
		{"query on websocket", "/ws?api_key=secret", map[string]string{"Upgrade": "websocket"}, http.StatusTeapot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.path, nil)
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, serve(h, r).Code)
		})
	}

	assert.Equal(t, http.StatusTeapot, serve(Auth("")(ok), httptest.NewRequest(http.MethodGet, "/x", nil)).Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(ok)

	r := httptest.NewRequest(http.MethodOptions, "/backtests", nil)
	r.Header.Set("Origin", "https://app.example.com")
	rec := serve(h, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest(http.MethodGet, "/backtests", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec = serve(h, r)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingTagsRequests(t *testing.T) {
	var buf bytes.Buffer
	h := Logging(slog.New(slog.NewJSONHandler(&buf, nil)))(ok)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/paper/status/r1", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/paper/status/r1"`)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	assert.Equal(t, "abc", serve(h, r).Header().Get(RequestIDHeader))
}

type limiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *limiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func (l *limiter) Wait(context.Context, string) error { return nil }

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	l := &limiter{}
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := serve(RateLimit(l, 5, 2*time.Second, logger)(ok), r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	require.Len(t, l.keys, 1)
	assert.Equal(t, "api:203.0.113.7", l.keys[0])

	l = &limiter{allow: true}
	assert.Equal(t, http.StatusTeapot, serve(RateLimit(l, 5, time.Second, logger)(ok), httptest.NewRequest(http.MethodGet, "/", nil)).Code)

	l = &limiter{err: errors.New("redis down")}
	assert.Equal(t, http.StatusTeapot, serve(RateLimit(l, 5, time.Second, logger)(ok), httptest.NewRequest(http.MethodGet, "/", nil)).Code, "fails open")
}
