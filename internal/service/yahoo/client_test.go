package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PriceSheet/internal/domain/models"
	xhttp "PriceSheet/pkg/http"
)

const aaplChart = `{"chart":{"result":[{"meta":{"symbol":"AAPL","currency":"USD",
"regularMarketPrice":189.5,"chartPreviousClose":187.25,"regularMarketTime":1710259200},
"indicators":{"quote":[{"open":[188.0,null],"close":[189.5,null]}]}}],"error":null}}`

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", xhttp.NewClient()).(*Client)
}

func TestLookupFlattensChartMeta(t *testing.T) {
	var gotPath, gotRange string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotRange = r.URL.Query().Get("range")
		_, _ = w.Write([]byte(aaplChart))
	})

	rec, err := c.Lookup(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Equal(t, "1d", gotRange)
	assert.Equal(t, models.QuoteRecord{
		models.FieldRegularMarketPrice: 189.5,
		models.FieldPreviousClose:      187.25,
		models.FieldOpen:               188.0,
	}, rec)
}

func TestLookupEscapesCurrencyPair(t *testing.T) {
	var gotPath string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"previousClose":1.3601}}],"error":null}}`))
	})

	rec, err := c.Lookup(context.Background(), "CAD=X")
	require.NoError(t, err)
	assert.Equal(t, 1.3601, rec[models.FieldPreviousClose])
	assert.Contains(t, gotPath, "CAD")
}

func TestLookupUnknownTicker(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	})

	_, err := c.Lookup(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrUnknownTicker)
}

func TestLookupChartError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Bad Request","description":"invalid range"}}}`))
	})

	_, err := c.Lookup(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid range")
}

func TestLookupEmptyResult(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[],"error":null}}`))
	})

	rec, err := c.Lookup(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, rec.IsEmpty())
}

func TestLookupServerError(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Lookup(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, xhttp.IsStatus(err, http.StatusBadGateway))
}
