package pricing

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"PriceSheet/internal/domain/models"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		record models.QuoteRecord
		want   float64
		wantOK bool
	}{
		{
			name:   "current price wins over everything",
			record: models.QuoteRecord{"currentPrice": 101.5, "regularMarketPrice": 99.0, "bid": 1.0, "ask": 2.0},
			want:   101.5,
			wantOK: true,
		},
		{
			name:   "falls through to regular market price",
			record: models.QuoteRecord{"currentPrice": nil, "regularMarketPrice": 42.0},
			want:   42,
			wantOK: true,
		},
		{
			name:   "non-numeric and non-positive fields are skipped",
			record: models.QuoteRecord{"currentPrice": "n/a", "regularMarketPrice": 0.0, "previousClose": -3.0, "open": 17.25},
			want:   17.25,
			wantOK: true,
		},
		{
			name:   "numeric strings and json numbers are accepted",
			record: models.QuoteRecord{"previousClose": json.Number("12.5")},
			want:   12.5,
			wantOK: true,
		},
		{
			name:   "string price",
			record: models.QuoteRecord{"currentPrice": " 7.5 "},
			want:   7.5,
			wantOK: true,
		},
		{
			name:   "integer price",
			record: models.QuoteRecord{"open": 8},
			want:   8,
			wantOK: true,
		},
		{
			name:   "bid ask midpoint",
			record: models.QuoteRecord{"bid": 10.0, "ask": 12.0},
			want:   11,
			wantOK: true,
		},
		{
			name:   "missing ask means no midpoint",
			record: models.QuoteRecord{"bid": 10.0, "ask": nil},
			wantOK: false,
		},
		{
			name:   "zero bid means no midpoint",
			record: models.QuoteRecord{"bid": 0.0, "ask": 12.0},
			wantOK: false,
		},
		{
			name:   "all fields unusable",
			record: models.QuoteRecord{"currentPrice": 0, "regularMarketPrice": nil, "previousClose": -1, "open": "x", "bid": -2, "ask": nil},
			wantOK: false,
		},
		{
			name:   "NaN is not a price",
			record: models.QuoteRecord{"currentPrice": math.NaN(), "open": 3.0},
			want:   3,
			wantOK: true,
		},
		{
			name:   "empty record",
			record: models.QuoteRecord{},
			wantOK: false,
		},
		{
			name:   "nil record",
			record: nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(tt.record)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestResolvePositiveCurrentPriceIgnoresOtherFields(t *testing.T) {
	others := []models.QuoteRecord{
		{},
		{"regularMarketPrice": 1.0},
		{"previousClose": "bad", "bid": 5.0, "ask": 6.0},
		{"open": -1.0},
	}
	for _, extra := range others {
		rec := models.QuoteRecord{"currentPrice": 55.5}
		for k, v := range extra {
			rec[k] = v
		}
		got, ok := Resolve(rec)
		assert.True(t, ok)
		assert.Equal(t, 55.5, got)
	}
}
