package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_WithinBurst(t *testing.T) {
	handler := RateLimit(10, 10, quietLogger())(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/products/prod-1", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, "request %d should pass", i+1)
	}
}

func TestRateLimit_OverBurstIs429(t *testing.T) {
	handler := RateLimit(1, 2, quietLogger())(okHandler())

	var limited bool
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/checkout", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusTooManyRequests {
			limited = true
			assert.Contains(t, rr.Body.String(), "RATE_LIMITED")
			break
		}
	}
	assert.True(t, limited, "burst should be exhausted within ten requests")
}

func TestRateLimit_PerIPBuckets(t *testing.T) {
	handler := RateLimit(1, 2, quietLogger())(okHandler())

	// Exhaust the first client's burst.
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	// A different client still has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:12345"
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestLimiterTable_EvictsStaleEntries(t *testing.T) {
	table := newLimiterTable(10, 10, time.Minute)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	table.now = func() time.Time { return base }

	table.get("10.0.0.1")
	table.get("10.0.0.2")
	assert.Equal(t, 2, table.size())

	// One client returns later; the other goes idle past the TTL.
	base = base.Add(30 * time.Second)
	table.get("10.0.0.1")
	base = base.Add(45 * time.Second)
	table.evictStale()

	assert.Equal(t, 1, table.size())
	table.get("10.0.0.1")
	assert.Equal(t, 1, table.size())
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{name: "forwarded for", xff: "203.0.113.50", remoteAddr: "10.0.0.1:12345", want: "203.0.113.50"},
		{name: "forwarded chain takes first valid", xff: "203.0.113.50, 10.0.0.9", remoteAddr: "10.0.0.1:12345", want: "203.0.113.50"},
		{name: "real ip", xri: "198.51.100.42", remoteAddr: "10.0.0.1:12345", want: "198.51.100.42"},
		{name: "remote addr fallback", remoteAddr: "10.0.0.1:12345", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
