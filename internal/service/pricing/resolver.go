package pricing

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"PriceSheet/internal/domain/models"
)

// directFields is the priority order for single-field prices.
var directFields = []string{
	models.FieldCurrentPrice,
	models.FieldRegularMarketPrice,
	models.FieldPreviousClose,
	models.FieldOpen,
}

// Resolve picks a single positive price from a quote record.
// The first usable direct field wins; otherwise the bid/ask midpoint is used
// when both sides are usable. Malformed fields are treated as absent.
func Resolve(record models.QuoteRecord) (float64, bool) {
	if record.IsEmpty() {
		return 0, false
	}
	for _, field := range directFields {
		if p, ok := positiveField(record, field); ok {
			return p, true
		}
	}

	bid, okBid := positiveField(record, models.FieldBid)
	ask, okAsk := positiveField(record, models.FieldAsk)
	if okBid && okAsk {
		return (bid + ask) / 2, true
	}
	return 0, false
}

// Field returns the named field as a positive float, if usable.
func Field(record models.QuoteRecord, field string) (float64, bool) {
	return positiveField(record, field)
}

func positiveField(record models.QuoteRecord, field string) (float64, bool) {
	raw, ok := record[field]
	if !ok || raw == nil {
		return 0, false
	}
	v, ok := toFloat(raw)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

func toFloat(raw any) (float64, bool) {
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int8:
		v = float64(n)
	case int16:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint8:
		v = float64(n)
	case uint16:
		v = float64(n)
	case uint32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		v = f
	case *float64:
		if n == nil {
			return 0, false
		}
		v = *n
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
