package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceSheet/pkg/http/middleware"
)

type routes map[string]echo.HandlerFunc

func (r routes) RegisterRoutes(e *echo.Echo) {
	for path, h := range r {
		e.GET(path, h)
	}
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServerRecoversPanics(t *testing.T) {
	s := NewServer(nil, []Handler{routes{
		"/boom": func(echo.Context) error { panic("kaboom") },
	}})

	rec := serve(s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestServerMapsAppErrors(t *testing.T) {
	s := NewServer(nil, []Handler{routes{
		"/missing": func(c echo.Context) error { return AppErrorResponse(c, NotFoundError("nothing here")) },
		"/plain":   func(c echo.Context) error { return AppErrorResponse(c, errors.New("raw")) },
		"/wrapped": func(c echo.Context) error {
			return AppErrorResponse(c, InternalError("query failed").WithError(errors.New("timeout")))
		},
	}})

	rec := serve(s, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")

	rec = serve(s, "/plain")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Something went wrong")

	rec = serve(s, "/wrapped")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "timeout")
}

func TestServerExposesMetrics(t *testing.T) {
	s := NewServer(nil, []Handler{routes{
		"/ok": func(c echo.Context) error { return SuccessResponse(c, "fine") },
	}})
	require.Equal(t, http.StatusOK, serve(s, "/ok").Code)

	rec := serve(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pricesheet_http_requests_total"))

	off := NewServer(nil, nil, WithMetricsPath(""))
	assert.Equal(t, http.StatusNotFound, serve(off, "/metrics").Code)
}

func TestServerSkipsNilHandlers(t *testing.T) {
	s := NewServer(nil, []Handler{nil})
	assert.Equal(t, http.StatusNotFound, serve(s, "/anything").Code)
}

func TestServerCORSIsOptIn(t *testing.T) {
	h := []Handler{routes{"/ok": func(c echo.Context) error { return c.NoContent(http.StatusOK) }}}
	get := func(s *Server) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ok", nil)
		req.Header.Set(echo.HeaderOrigin, "https://dash.example.net")
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, req)
		return rec
	}

	rec := get(NewServer(nil, h, WithMetricsPath("")))
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	rec = get(NewServer(nil, h, WithMetricsPath(""), WithCORS(middleware.CORSConfig{AllowOrigins: []string{"https://dash.example.net"}})))
	assert.Equal(t, "https://dash.example.net", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
