package finnhub

import (
	"context"
	"fmt"
	"strings"

	"PriceSheet/internal/domain/models"
	drepo "PriceSheet/internal/domain/repository"
	xhttp "PriceSheet/pkg/http"
)

// fhQuote is the /quote payload. Finnhub answers unknown symbols with all
// zeros rather than an error.
type fhQuote struct {
	C  *float64 `json:"c"`  // current
	D  *float64 `json:"d"`  // change
	DP *float64 `json:"dp"` // percent change
	H  *float64 `json:"h"`
	L  *float64 `json:"l"`
	O  *float64 `json:"o"`
	PC *float64 `json:"pc"` // previous close
	T  int64    `json:"t"`  // unix seconds
}

// Client implements a QuoteProvider backed by Finnhub's REST API.
type Client struct {
	apiKey  string
	baseURL string
	http    *xhttp.Client
}

// New creates a new Finnhub quote provider.
func New(apiKey, baseURL string, hc *xhttp.Client) drepo.QuoteProvider {
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

func (c *Client) Name() string { return "finnhub" }

// Lookup fetches the latest quote for t.
func (c *Client) Lookup(ctx context.Context, t models.Ticker) (models.QuoteRecord, error) {
	var q fhQuote
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + "/quote",
		QueryParams: map[string][]string{"symbol": {t.String()}},
		Headers:     map[string]string{"X-Finnhub-Token": c.apiKey},
	}, &q)
	if err != nil {
		return nil, fmt.Errorf("finnhub quote %s: %w", t, err)
	}

	if q.T == 0 {
		return models.QuoteRecord{}, nil
	}
	rec := models.QuoteRecord{}
	if q.C != nil {
		rec[models.FieldCurrentPrice] = *q.C
	}
	if q.PC != nil {
		rec[models.FieldPreviousClose] = *q.PC
	}
	if q.O != nil {
		rec[models.FieldOpen] = *q.O
	}
	return rec, nil
}
