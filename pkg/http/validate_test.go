package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeQuery struct {
	Ticker string `query:"ticker" validate:"required,max=8"`
	Limit  int    `query:"limit" default:"100" validate:"gte=1,lte=500"`
}

func bindQuery(t *testing.T, target string) (*rangeQuery, []ValidationError) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	req := &rangeQuery{}
	return req, ReadAndValidateRequest(c, req)
}

func TestReadAndValidateRequestAppliesDefaults(t *testing.T) {
	req, errs := bindQuery(t, "/?ticker=AAPL")
	require.Nil(t, errs)
	assert.Equal(t, "AAPL", req.Ticker)
	assert.Equal(t, 100, req.Limit)
}

func TestReadAndValidateRequestExplicitBeatsDefault(t *testing.T) {
	req, errs := bindQuery(t, "/?ticker=AAPL&limit=7")
	require.Nil(t, errs)
	assert.Equal(t, 7, req.Limit)

	_, errs = bindQuery(t, "/?ticker=AAPL&limit=0")
	require.Len(t, errs, 1, "an explicit zero is not replaced by the default")
	assert.Equal(t, "ERR_GTE", errs[0].Code)
	assert.Equal(t, "limit", errs[0].Field)
	assert.Equal(t, "limit must be at least 1", errs[0].Message)
	assert.Equal(t, map[string]interface{}{"min": "1"}, errs[0].Params)
}

func TestReadAndValidateRequestFieldErrors(t *testing.T) {
	_, errs := bindQuery(t, "/?limit=501")
	require.Len(t, errs, 2)
	assert.Equal(t, ValidationError{Code: "ERR_REQUIRED", Field: "ticker", Message: "ticker is required"}, errs[0])
	assert.Equal(t, "ERR_LTE", errs[1].Code)
	assert.Equal(t, "limit must be at most 500", errs[1].Message)

	_, errs = bindQuery(t, "/?ticker=WAYTOOLONG")
	require.Len(t, errs, 1)
	assert.Equal(t, "ticker must be at most 8 characters", errs[0].Message)
}

func TestReadAndValidateRequestBindError(t *testing.T) {
	_, errs := bindQuery(t, "/?ticker=AAPL&limit=ten")
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_BIND", errs[0].Code)
	assert.Contains(t, errs[0].Message, "ten")
}
