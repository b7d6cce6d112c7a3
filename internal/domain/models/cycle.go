package models

import (
	"sort"
	"time"
)

// CycleReport summarizes one update cycle.
type CycleReport struct {
	StartedAt    time.Time          `json:"started_at"`
	FinishedAt   time.Time          `json:"finished_at"`
	Forced       bool               `json:"forced"`
	Requested    int                `json:"requested"`
	Prices       map[Ticker]float64 `json:"prices"`
	Failed       []Ticker           `json:"failed,omitempty"`
	ExchangeRate *float64           `json:"exchange_rate,omitempty"`
	Success      bool               `json:"success"`
	Error        string             `json:"error,omitempty"`
}

// SuccessRate returns the resolved share of requested tickers in percent.
func (r *CycleReport) SuccessRate() float64 {
	if r == nil || r.Requested == 0 {
		return 0
	}
	return float64(len(r.Prices)) / float64(r.Requested) * 100
}

// Duration is the wall time the cycle took.
func (r *CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Snapshots flattens resolved prices into history rows, sorted by ticker.
func (r *CycleReport) Snapshots(source string) []*PriceSnapshot {
	out := make([]*PriceSnapshot, 0, len(r.Prices))
	for t, p := range r.Prices {
		out = append(out, &PriceSnapshot{Ticker: t, Price: p, Source: source, FetchedAt: r.StartedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// MarketStatus is a read-only view of the scheduler.
type MarketStatus struct {
	CurrentTime     time.Time  `json:"current_time"`
	IsMarketOpen    bool       `json:"is_market_open"`
	MarketOpenHour  int        `json:"market_open_hour"`
	MarketCloseHour int        `json:"market_close_hour"`
	IntervalMinutes int        `json:"update_interval_minutes"`
	LastUpdate      *time.Time `json:"last_update,omitempty"`
	NextUpdate      time.Time  `json:"next_update"`
}
