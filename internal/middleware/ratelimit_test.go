package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

func TestRateLimiter_PerClientIP(t *testing.T) {
	e := echo.New()

	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate:  rate.Limit(1),
		Burst: 1,
	})
	e.Use(echomw.RateLimiter(store))
	e.Any("/proxy/:service", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/proxy/auth", http.NoBody)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("10.0.0.1:1234"); code != http.StatusOK {
		t.Fatalf("first request: status = %d, want %d", code, http.StatusOK)
	}

	got429 := false
	for range 10 {
		if do("10.0.0.1:1234") == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected at least one 429 response after burst, got none")
	}

	if code := do("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("other client: status = %d, want %d", code, http.StatusOK)
	}
}
