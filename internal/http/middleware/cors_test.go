package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(t *testing.T, origin string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Use(CORS())
	r.OPTIONS("/api/videos", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/videos", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCORSAllowsLocalDevOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	for _, origin := range []string{
		"http://localhost:5173",
		"http://127.0.0.1:3000",
	} {
		rec := preflight(t, origin)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("origin %s: status got=%d want=%d", origin, rec.Code, http.StatusNoContent)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Fatalf("origin %s: allow-origin got=%q want=%q", origin, got, origin)
		}
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rec := preflight(t, "https://evil.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unknown origin should not be allowed, got allow-origin=%q", got)
	}
}

func TestCORSEnvOverrideReplacesDefaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.vidscribe.io, https://staging.vidscribe.io")

	rec := preflight(t, "https://app.vidscribe.io")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.vidscribe.io" {
		t.Fatalf("override origin not allowed, got=%q", got)
	}

	rec = preflight(t, "http://localhost:5173")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("default origin should be replaced by override, got=%q", got)
	}
}
