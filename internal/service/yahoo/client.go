package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	xhttp "PriceSheet/pkg/http"
)

// ErrUnknownTicker is returned when Yahoo has no chart for the symbol.
var ErrUnknownTicker = errors.New("yahoo: unknown ticker")

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol             string   `json:"symbol"`
		Currency           string   `json:"currency"`
		RegularMarketPrice *float64 `json:"regularMarketPrice"`
		PreviousClose      *float64 `json:"previousClose"`
		ChartPreviousClose *float64 `json:"chartPreviousClose"`
		RegularMarketTime  int64    `json:"regularMarketTime"`
	} `json:"meta"`
	Indicators struct {
		Quote []struct {
			Open  []*float64 `json:"open"`
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

// Client looks up quotes through Yahoo's public chart endpoint.
type Client struct {
	baseURL string
	http    *xhttp.Client
}

// New creates a Yahoo quote provider rooted at baseURL.
func New(baseURL string, hc *xhttp.Client) drepo.QuoteProvider {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) Name() string { return "yahoo" }

// Lookup fetches the one-day chart for t and flattens its metadata into a
// quote record. Fields Yahoo leaves out are simply absent from the record.
func (c *Client) Lookup(ctx context.Context, t models.Ticker) (models.QuoteRecord, error) {
	var resp chartResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/v8/finance/chart/" + url.PathEscape(t.String()),
		QueryParams: map[string][]string{
			"range":    {"1d"},
			"interval": {"1d"},
		},
	}, &resp)
	if err != nil {
		if xhttp.IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTicker, t)
		}
		return nil, fmt.Errorf("yahoo chart %s: %w", t, err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("yahoo chart %s: %s: %s", t, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return models.QuoteRecord{}, nil
	}
	return toRecord(&resp.Chart.Result[0]), nil
}

func toRecord(r *chartResult) models.QuoteRecord {
	rec := models.QuoteRecord{}
	put := func(field string, v *float64) {
		if v != nil {
			rec[field] = *v
		}
	}

	put(models.FieldRegularMarketPrice, r.Meta.RegularMarketPrice)
	if r.Meta.PreviousClose != nil {
		put(models.FieldPreviousClose, r.Meta.PreviousClose)
	} else {
		put(models.FieldPreviousClose, r.Meta.ChartPreviousClose)
	}
	if len(r.Indicators.Quote) > 0 {
		put(models.FieldOpen, lastNonNil(r.Indicators.Quote[0].Open))
	}
	return rec
}

func lastNonNil(vs []*float64) *float64 {
	for i := len(vs) - 1; i >= 0; i-- {
		if vs[i] != nil {
			return vs[i]
		}
	}
	return nil
}
