package http

import (
	"time"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

// PositionsResponse lists positions in the requested statuses
type PositionsResponse struct {
	Timestamp time.Time         `json:"timestamp"`
	Statuses  []position.Status `json:"statuses"`
	Count     int               `json:"count"`
	Positions []PositionSummary `json:"positions"`
	Summary   PositionsSummary  `json:"summary"`
}

// PositionSummary is the list view of one position
type PositionSummary struct {
	ID             string              `json:"id"`
	Status         position.Status     `json:"status"`
	LongTicker     string              `json:"long_ticker"`
	ShortTicker    string              `json:"short_ticker"`
	Score          float64             `json:"score"`
	ZScore         float64             `json:"z_score"`
	ProfitPercent  float64             `json:"profit_percent"`
	ExitReason     position.ExitReason `json:"exit_reason,omitempty"`
	CloseRequested bool                `json:"close_requested"`
	EntryTime      *time.Time          `json:"entry_time,omitempty"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// PositionsSummary provides aggregate figures over the listed positions
type PositionsSummary struct {
	ByStatus      map[position.Status]int `json:"by_status"`
	AvgProfit     float64                 `json:"avg_profit_percent"`
	CloseRequests int                     `json:"close_requests"`
}

// CloseResponse acknowledges a manual close request
type CloseResponse struct {
	ID             string          `json:"id"`
	Status         position.Status `json:"status"`
	CloseRequested bool            `json:"close_requested"`
	Message        string          `json:"message"`
}

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func summarize(rec *position.Record) PositionSummary {
	return PositionSummary{
		ID:             rec.ID,
		Status:         rec.Status,
		LongTicker:     rec.LongTicker,
		ShortTicker:    rec.ShortTicker,
		Score:          rec.Score,
		ProfitPercent:  rec.ProfitPercent,
		ExitReason:     rec.ExitReason,
		CloseRequested: rec.CloseRequested,
		EntryTime:      rec.EntryTime,
		ZScore:         rec.CurrentStats.ZScore,
		UpdatedAt:      rec.UpdatedAt,
	}
}
