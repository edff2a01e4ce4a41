package position

import (
	"sort"
	"strings"
	"time"
)

// Status is the lifecycle state of a pair position
type Status string

const (
	StatusSelected Status = "SELECTED"
	StatusTrading  Status = "TRADING"
	StatusClosed   Status = "CLOSED"
	StatusError    Status = "ERROR"
	StatusObserved Status = "OBSERVED" // manual watch, outside the trading pipeline
)

// IsTerminal reports whether no further transitions are allowed from s
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusError
}

// IsActive reports whether s occupies the pair slot (selected or trading)
func (s Status) IsActive() bool {
	return s == StatusSelected || s == StatusTrading
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusSelected, StatusTrading, StatusClosed, StatusError, StatusObserved:
		return true
	}
	return false
}

// ExitReason names why a position was closed
type ExitReason string

const ExitManual ExitReason = "manual"

// StatSnapshot holds the pair statistics at one point in time
type StatSnapshot struct {
	ZScore              float64 `json:"z_score"`
	Correlation         float64 `json:"correlation"`
	CointegrationPValue float64 `json:"cointegration_pvalue"` // Johansen
	ADFPValue           float64 `json:"adf_pvalue"`
	Mean                float64 `json:"mean"`
	Std                 float64 `json:"std"`
	Spread              float64 `json:"spread"`
	Alpha               float64 `json:"alpha"`
	Beta                float64 `json:"beta"`
}

// Extremum is a running min/max with the elapsed minutes since entry at which
// each extreme was first reached
type Extremum struct {
	Set          bool    `json:"set"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	MinAtMinutes int64   `json:"min_at_minutes"`
	MaxAtMinutes int64   `json:"max_at_minutes"`
}

// Extremums groups the tracked metrics of a position
type Extremums struct {
	Profit      Extremum `json:"profit"`
	ZScore      Extremum `json:"z_score"`
	Correlation Extremum `json:"correlation"`
	LongReturn  Extremum `json:"long_return"`
	ShortReturn Extremum `json:"short_return"`
}

// ComponentParams is an enable flag plus numeric weight or threshold
type ComponentParams struct {
	Enabled bool    `json:"enabled" yaml:"enabled"`
	Value   float64 `json:"value" yaml:"value"`
}

// StrategyParams is the frozen copy of strategy settings a position was evaluated with
type StrategyParams struct {
	Scoring map[string]ComponentParams `json:"scoring"`
	Exits   map[string]ComponentParams `json:"exits"`
	// Extra numeric knobs (breakeven activation, candle limit, ...)
	Extra map[string]float64 `json:"extra,omitempty"`
}

// Clone returns a deep copy so the frozen params cannot be mutated through aliases
func (p StrategyParams) Clone() StrategyParams {
	out := StrategyParams{
		Scoring: make(map[string]ComponentParams, len(p.Scoring)),
		Exits:   make(map[string]ComponentParams, len(p.Exits)),
	}
	for k, v := range p.Scoring {
		out.Scoring[k] = v
	}
	for k, v := range p.Exits {
		out.Exits[k] = v
	}
	if p.Extra != nil {
		out.Extra = make(map[string]float64, len(p.Extra))
		for k, v := range p.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// ZScorePoint is one z-score history sample
type ZScorePoint struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// PixelSpreadPoint is one pixel-spread history sample
type PixelSpreadPoint struct {
	Time   time.Time `json:"t"`
	Pixels float64   `json:"px"`
}

// Record is the persisted state of one pair position
type Record struct {
	ID      string `json:"id" db:"id"`
	Version int64  `json:"version" db:"version"`
	Status  Status `json:"status" db:"status"`

	LongTicker  string `json:"long_ticker" db:"long_ticker"`
	ShortTicker string `json:"short_ticker" db:"short_ticker"`
	PairKey     string `json:"pair_key" db:"pair_key"`

	EntryLongPrice    float64 `json:"entry_long_price" db:"entry_long_price"`
	EntryShortPrice   float64 `json:"entry_short_price" db:"entry_short_price"`
	CurrentLongPrice  float64 `json:"current_long_price" db:"current_long_price"`
	CurrentShortPrice float64 `json:"current_short_price" db:"current_short_price"`

	EntryStats   *StatSnapshot `json:"entry_stats,omitempty"`
	CurrentStats StatSnapshot  `json:"current_stats"`
	EntryTime    *time.Time    `json:"entry_time,omitempty" db:"entry_time"`

	ProfitPercent      float64 `json:"profit_percent" db:"profit_percent"`
	LongReturnPercent  float64 `json:"long_return_percent" db:"long_return_percent"`
	ShortReturnPercent float64 `json:"short_return_percent" db:"short_return_percent"`

	Extremums      Extremums  `json:"extremums"`
	ExitReason     ExitReason `json:"exit_reason,omitempty" db:"exit_reason"`
	CloseRequested bool       `json:"close_requested" db:"close_requested"`

	Params             StrategyParams     `json:"params"`
	ZScoreHistory      []ZScorePoint      `json:"z_score_history"`
	PixelSpreadHistory []PixelSpreadPoint `json:"pixel_spread_history"`

	Score        float64    `json:"score" db:"score"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// PairKey returns the order-independent key of a ticker pair
func PairKey(a, b string) string {
	t := []string{strings.ToUpper(a), strings.ToUpper(b)}
	sort.Strings(t)
	return t[0] + "|" + t[1]
}

// Pair returns "LONG/SHORT" for log context
func (r *Record) Pair() string {
	return r.LongTicker + "/" + r.ShortTicker
}

// ElapsedMinutes returns whole minutes since entry, zero before entry
func (r *Record) ElapsedMinutes(now time.Time) int64 {
	if r.EntryTime == nil {
		return 0
	}
	d := now.Sub(*r.EntryTime)
	if d < 0 {
		return 0
	}
	return int64(d / time.Minute)
}

// Clone returns a deep copy of r
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.EntryStats != nil {
		s := *r.EntryStats
		out.EntryStats = &s
	}
	if r.EntryTime != nil {
		t := *r.EntryTime
		out.EntryTime = &t
	}
	if r.ClosedAt != nil {
		t := *r.ClosedAt
		out.ClosedAt = &t
	}
	out.Params = r.Params.Clone()
	out.ZScoreHistory = append([]ZScorePoint(nil), r.ZScoreHistory...)
	out.PixelSpreadHistory = append([]PixelSpreadPoint(nil), r.PixelSpreadHistory...)
	return &out
}

// NewSelected builds a fresh SELECTED record for a pair
func NewSelected(id, long, short string, stats StatSnapshot, score float64, params StrategyParams, now time.Time) *Record {
	return &Record{
		ID:           id,
		Status:       StatusSelected,
		LongTicker:   long,
		ShortTicker:  short,
		PairKey:      PairKey(long, short),
		CurrentStats: stats,
		Params:       params.Clone(),
		Score:        score,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
