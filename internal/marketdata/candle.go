package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInsufficientCandles is returned when fewer than two candles are available
var ErrInsufficientCandles = errors.New("at least 2 candles required")

// Candle is one OHLC bar
type Candle struct {
	Time  time.Time `json:"t"`
	Open  float64   `json:"o"`
	High  float64   `json:"h"`
	Low   float64   `json:"l"`
	Close float64   `json:"c"`
}

// Source provides ordered candles per ticker
type Source interface {
	Candles(ctx context.Context, ticker string, limit int) ([]Candle, error)
}

// SortByTime orders candles oldest first in place
func SortByTime(c []Candle) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Time.Before(c[j].Time) })
}

// InferTimeframe returns the bar interval as the smallest positive gap between
// consecutive candles
func InferTimeframe(c []Candle) (time.Duration, error) {
	if len(c) < 2 {
		return 0, ErrInsufficientCandles
	}
	var tf time.Duration
	for i := 1; i < len(c); i++ {
		d := c[i].Time.Sub(c[i-1].Time)
		if d <= 0 {
			continue
		}
		if tf == 0 || d < tf {
			tf = d
		}
	}
	if tf == 0 {
		return 0, fmt.Errorf("candles share a single timestamp")
	}
	return tf, nil
}

// FetchPair loads candles for both legs, requiring at least two per ticker
func FetchPair(ctx context.Context, src Source, long, short string, limit int) (map[string][]Candle, error) {
	out := make(map[string][]Candle, 2)
	for _, t := range []string{long, short} {
		c, err := src.Candles(ctx, t, limit)
		if err != nil {
			return nil, fmt.Errorf("candles for %s: %w", t, err)
		}
		if len(c) < 2 {
			return nil, fmt.Errorf("candles for %s: %w", t, ErrInsufficientCandles)
		}
		out[t] = c
	}
	return out, nil
}
