package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func corsServer(cfg CORSConfig) *echo.Echo {
	e := echo.New()
	e.Use(CORS(cfg))
	e.GET("/api/status", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	return e
}

func corsRequest(e *echo.Echo, method, origin string, preflight bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/status", nil)
	if origin != "" {
		req.Header.Set(echo.HeaderOrigin, origin)
	}
	if preflight {
		req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodGet)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

var dashboard = CORSConfig{
	AllowOrigins: []string{"https://dash.example.net"},
	AllowMethods: []string{http.MethodGet, http.MethodPost},
	AllowHeaders: []string{echo.HeaderContentType},
	MaxAge:       10 * time.Minute,
}

func TestCORSAllowedOrigin(t *testing.T) {
	rec := corsRequest(corsServer(dashboard), http.MethodGet, "https://DASH.example.net", false)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://DASH.example.net", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, echo.HeaderOrigin, rec.Header().Get(echo.HeaderVary))
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), "methods only on preflight")
}

func TestCORSPreflight(t *testing.T) {
	rec := corsRequest(corsServer(dashboard), http.MethodOptions, "https://dash.example.net", true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
	assert.Equal(t, echo.HeaderContentType, rec.Header().Get(echo.HeaderAccessControlAllowHeaders))
	assert.Equal(t, "600", rec.Header().Get(echo.HeaderAccessControlMaxAge))
}

func TestCORSRejectsOtherOrigins(t *testing.T) {
	e := corsServer(dashboard)

	rec := corsRequest(e, http.MethodGet, "https://evil.example.org", false)
	assert.Equal(t, http.StatusOK, rec.Code, "simple requests still reach the handler")
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = corsRequest(e, http.MethodOptions, "https://evil.example.org", true)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCORSWildcardAndSameOrigin(t *testing.T) {
	e := corsServer(CORSConfig{AllowOrigins: []string{"*"}})

	rec := corsRequest(e, http.MethodGet, "https://anywhere.example.com", false)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = corsRequest(e, http.MethodGet, "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Empty(t, rec.Header().Get(echo.HeaderVary))
}
