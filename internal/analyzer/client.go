// Package analyzer talks to the external statistical analysis service that
// computes z-scores and cointegration tests for candle data.
package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/domain/candidate"
	"github.com/sawpanic/pairsrun/internal/infrastructure/httpclient"
	"github.com/sawpanic/pairsrun/internal/marketdata"
)

// Options are passed through to the analyzer with every request
type Options struct {
	Timeframe   string `json:"timeframe"`
	CandleLimit int    `json:"candle_limit"`
}

// BatchRequest asks for every pair among the supplied tickers
type BatchRequest struct {
	Candles map[string][]marketdata.Candle `json:"candles"`
	Options Options                        `json:"options"`
}

// PairRequest asks for a fresh evaluation of one pair
type PairRequest struct {
	LongTicker  string              `json:"long_ticker"`
	ShortTicker string              `json:"short_ticker"`
	Long        []marketdata.Candle `json:"long"`
	Short       []marketdata.Candle `json:"short"`
	Options     Options             `json:"options"`
}

// Client is the analyzer contract. AnalyzePair must be deterministic for
// identical input.
type Client interface {
	AnalyzeBatch(ctx context.Context, req BatchRequest) ([]candidate.Candidate, error)
	AnalyzePair(ctx context.Context, req PairRequest) (candidate.Candidate, error)
}

// NewOptions infers the timeframe from the first ticker, in sorted order, with
// enough candles
func NewOptions(candles map[string][]marketdata.Candle, limit int) (Options, error) {
	tickers := make([]string, 0, len(candles))
	for t := range candles {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, t := range tickers {
		tf, err := marketdata.InferTimeframe(candles[t])
		if err != nil {
			continue
		}
		return Options{Timeframe: formatTimeframe(tf), CandleLimit: limit}, nil
	}
	return Options{}, marketdata.ErrInsufficientCandles
}

func formatTimeframe(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return d.String()
	}
}

type batchResponse struct {
	Candidates []candidate.Candidate `json:"candidates"`
}

// HTTPClient is the Client backed by the analyzer's JSON API
type HTTPClient struct {
	pool *httpclient.ClientPool
}

// NewHTTPClient wraps a configured client pool
func NewHTTPClient(pool *httpclient.ClientPool) *HTTPClient {
	return &HTTPClient{pool: pool}
}

func (c *HTTPClient) AnalyzeBatch(ctx context.Context, req BatchRequest) ([]candidate.Candidate, error) {
	start := time.Now()
	var resp batchResponse
	if err := c.pool.DoJSON(ctx, http.MethodPost, "/v1/analyze/batch", req, &resp); err != nil {
		return nil, fmt.Errorf("batch analysis of %d tickers: %w", len(req.Candles), err)
	}
	log.Debug().
		Int("tickers", len(req.Candles)).
		Int("candidates", len(resp.Candidates)).
		Dur("took", time.Since(start)).
		Msg("Batch analysis complete")
	return resp.Candidates, nil
}

func (c *HTTPClient) AnalyzePair(ctx context.Context, req PairRequest) (candidate.Candidate, error) {
	var out candidate.Candidate
	if err := c.pool.DoJSON(ctx, http.MethodPost, "/v1/analyze/pair", req, &out); err != nil {
		return candidate.Candidate{}, fmt.Errorf("pair analysis %s/%s: %w", req.LongTicker, req.ShortTicker, err)
	}
	if out.LongTicker == "" {
		out.LongTicker = req.LongTicker
	}
	if out.ShortTicker == "" {
		out.ShortTicker = req.ShortTicker
	}
	return out, nil
}
