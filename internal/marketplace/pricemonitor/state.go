// Package pricemonitor implements the periodic and event-driven price
// refresh cycle of spec.md §4.G: per-moment price/volume state, alert
// evaluation, and history retention.
package pricemonitor

import (
	"math"
	"time"

	"github.com/riskgateway/platform/internal/money"
)

// HistoryPoint is one sample in a moment's rolling price history.
type HistoryPoint struct {
	Timestamp time.Time    `json:"timestamp"`
	Price     money.Amount `json:"price"`
	Volume    int64        `json:"volume"`
}

// PriceState is the per-moment price state spec.md §3 names: "current/
// floor/average/last-sale price, rolling price history (bounded time
// window, default 30 days), 24h volume, 24h sales count, listing count,
// 24h percent change, volatility, last-updated".
type PriceState struct {
	MomentID         string         `json:"momentId"`
	Current          money.Amount   `json:"current"`
	Floor            money.Amount   `json:"floor"`
	Average          money.Amount   `json:"average"`
	LastSale         money.Amount   `json:"lastSale"`
	History          []HistoryPoint `json:"history"`
	Volume24h        int64          `json:"volume24h"`
	Sales24h         int64          `json:"sales24h"`
	ListingCount     int            `json:"listingCount"`
	PercentChange24h float64        `json:"percentChange24h"`
	Volatility       float64        `json:"volatility"`
	LastUpdated      time.Time      `json:"lastUpdated"`
}

// appendHistory records a new sample and drops anything older than
// retention (spec.md §4.G: "drop price-history entries older than the
// configured retention window").
func (s *PriceState) appendHistory(point HistoryPoint, retention time.Duration) {
	s.History = append(s.History, point)
	s.pruneHistory(retention)
}

func (s *PriceState) pruneHistory(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)
	kept := s.History[:0]
	for _, p := range s.History {
		if p.Timestamp.After(cutoff) {
			kept = append(kept, p)
		}
	}
	s.History = kept
}

// sevenDayVolumeMean computes the rolling mean 24h-volume sample used for
// volume-spike detection (spec.md §4.G: "compares current 24h volume
// against a 7-day rolling mean (computed from history ring)").
func (s *PriceState) sevenDayVolumeMean() float64 {
	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	var sum float64
	var n int
	for _, p := range s.History {
		if p.Timestamp.After(cutoff) {
			sum += float64(p.Volume)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// volatility is the sample standard deviation of history prices within the
// retention window, used as the reported volatility figure.
func volatility(history []HistoryPoint) float64 {
	if len(history) < 2 {
		return 0
	}
	var sum float64
	for _, p := range history {
		sum += p.Price.Float64()
	}
	mean := sum / float64(len(history))

	var variance float64
	for _, p := range history {
		diff := p.Price.Float64() - mean
		variance += diff * diff
	}
	variance /= float64(len(history) - 1)
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}
