// Package exchange reads positions, fills and candles from the trading integration.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sawpanic/pairsrun/internal/infrastructure/httpclient"
	"github.com/sawpanic/pairsrun/internal/marketdata"
)

// OpenPosition is one leg as currently held on the exchange
type OpenPosition struct {
	Ticker        string  `json:"ticker"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	Allocated     float64 `json:"allocated"`
	Fees          float64 `json:"fees"`
}

// TradeResult is the fill of one leg's order
type TradeResult struct {
	Ticker      string    `json:"ticker"`
	OrderID     string    `json:"order_id"`
	FillPrice   float64   `json:"fill_price"`
	RealizedPnL float64   `json:"realized_pnl"`
	Fees        float64   `json:"fees"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// Gateway looks up exchange state. Both lookups return nil without error when
// the exchange has nothing for the ticker.
type Gateway interface {
	OpenPosition(ctx context.Context, ticker string) (*OpenPosition, error)
	TradeResult(ctx context.Context, ticker, orderID string) (*TradeResult, error)
}

// HTTPGateway implements Gateway and marketdata.Source over the integration's JSON API
type HTTPGateway struct {
	pool *httpclient.ClientPool
}

var _ Gateway = (*HTTPGateway)(nil)
var _ marketdata.Source = (*HTTPGateway)(nil)

// NewHTTPGateway wraps a configured client pool
func NewHTTPGateway(pool *httpclient.ClientPool) *HTTPGateway {
	return &HTTPGateway{pool: pool}
}

func (g *HTTPGateway) OpenPosition(ctx context.Context, ticker string) (*OpenPosition, error) {
	var out OpenPosition
	err := g.pool.DoJSON(ctx, http.MethodGet, "/v1/positions/"+url.PathEscape(ticker), nil, &out)
	if errors.Is(err, httpclient.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open position %s: %w", ticker, err)
	}
	if out.Ticker == "" {
		out.Ticker = ticker
	}
	return &out, nil
}

func (g *HTTPGateway) TradeResult(ctx context.Context, ticker, orderID string) (*TradeResult, error) {
	var out TradeResult
	path := fmt.Sprintf("/v1/trades/%s/%s", url.PathEscape(ticker), url.PathEscape(orderID))
	err := g.pool.DoJSON(ctx, http.MethodGet, path, nil, &out)
	if errors.Is(err, httpclient.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trade result %s %s: %w", ticker, orderID, err)
	}
	if out.Ticker == "" {
		out.Ticker = ticker
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return &out, nil
}

// Candles returns up to limit candles for ticker, oldest first
func (g *HTTPGateway) Candles(ctx context.Context, ticker string, limit int) ([]marketdata.Candle, error) {
	var out []marketdata.Candle
	path := fmt.Sprintf("/v1/candles/%s?limit=%d", url.PathEscape(ticker), limit)
	if err := g.pool.DoJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("candles %s: %w", ticker, err)
	}
	marketdata.SortByTime(out)
	return out, nil
}
