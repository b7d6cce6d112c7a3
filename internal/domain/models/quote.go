package models

import (
	"strings"
	"time"
)

// Ticker is an upper-cased, trimmed instrument symbol.
type Ticker string

// NormalizeTicker trims whitespace and upper-cases the symbol.
// An empty result means the input was not a usable ticker.
func NormalizeTicker(raw string) Ticker {
	return Ticker(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsValid reports whether the ticker is non-empty.
func (t Ticker) IsValid() bool { return t != "" }

func (t Ticker) String() string { return string(t) }

// Quote record keys understood by the price resolver.
const (
	FieldCurrentPrice       = "currentPrice"
	FieldRegularMarketPrice = "regularMarketPrice"
	FieldPreviousClose      = "previousClose"
	FieldOpen               = "open"
	FieldBid                = "bid"
	FieldAsk                = "ask"
)

// QuoteRecord is the loosely typed snapshot a data provider returns for one ticker.
// Values may be missing, nil, numeric or strings.
type QuoteRecord map[string]any

// IsEmpty reports whether the record carries no fields at all.
func (r QuoteRecord) IsEmpty() bool { return len(r) == 0 }

// PriceSnapshot is a resolved price as written to the sheet and history sinks.
type PriceSnapshot struct {
	Ticker    Ticker    `json:"ticker"`
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}
