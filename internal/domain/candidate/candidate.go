package candidate

import (
	"math"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

// Candidate is one pair evaluated by the statistical analyzer. Optional
// statistics are pointers; nil means the analyzer did not supply the value.
type Candidate struct {
	LongTicker  string `json:"long_ticker"`
	ShortTicker string `json:"short_ticker"`

	LatestZ       *float64  `json:"latest_z,omitempty"`
	ZScoreHistory []float64 `json:"z_score_history,omitempty"`

	Correlation       *float64 `json:"correlation,omitempty"`
	CorrelationPValue *float64 `json:"correlation_pvalue,omitempty"`

	JohansenPValue  *float64 `json:"johansen_pvalue,omitempty"`
	ADFPValue       *float64 `json:"adf_pvalue,omitempty"`
	TraceStatistic  *float64 `json:"trace_statistic,omitempty"`
	CriticalValue95 *float64 `json:"critical_value_95,omitempty"`

	AvgRSquared       *float64 `json:"avg_r_squared,omitempty"`
	StablePeriods     *int     `json:"stable_periods,omitempty"`
	TotalObservations *int     `json:"total_observations,omitempty"`

	Mean   *float64 `json:"mean,omitempty"`
	Std    *float64 `json:"std,omitempty"`
	Spread *float64 `json:"spread,omitempty"`
	Alpha  *float64 `json:"alpha,omitempty"`
	Beta   *float64 `json:"beta,omitempty"`

	// Older analyzer builds report the Johansen p-value under this name
	CointegrationPValue *float64 `json:"cointegration_pvalue,omitempty"`

	// Attached by the selector from candle data; never supplied by the analyzer
	AvgPixelSpread *float64 `json:"avg_pixel_spread,omitempty"`
}

// Float returns a pointer to v, for building candidates in code
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v
func Int(v int) *int { return &v }

// PairKey is the order-independent key for this candidate's tickers
func (c Candidate) PairKey() string {
	return position.PairKey(c.LongTicker, c.ShortTicker)
}

// Pair returns "LONG/SHORT" for log context
func (c Candidate) Pair() string {
	return c.LongTicker + "/" + c.ShortTicker
}

// Johansen returns the Johansen p-value, falling back to the legacy field
func (c Candidate) Johansen() (float64, bool) {
	if v, ok := get(c.JohansenPValue); ok {
		return v, true
	}
	return get(c.CointegrationPValue)
}

// ADF returns the ADF p-value
func (c Candidate) ADF() (float64, bool) { return get(c.ADFPValue) }

// Z returns the latest z-score, falling back to the last history sample
func (c Candidate) Z() (float64, bool) {
	if v, ok := get(c.LatestZ); ok {
		return v, true
	}
	if n := len(c.ZScoreHistory); n > 0 && isFinite(c.ZScoreHistory[n-1]) {
		return c.ZScoreHistory[n-1], true
	}
	return 0, false
}

// Corr returns the correlation coefficient
func (c Candidate) Corr() (float64, bool) { return get(c.Correlation) }

// CorrPValue returns the correlation p-value
func (c Candidate) CorrPValue() (float64, bool) { return get(c.CorrelationPValue) }

// RSquared returns the average R²
func (c Candidate) RSquared() (float64, bool) { return get(c.AvgRSquared) }

// Trace returns the trace statistic and its 95% critical value when both are present
func (c Candidate) Trace() (stat, crit float64, ok bool) {
	s, ok1 := get(c.TraceStatistic)
	cv, ok2 := get(c.CriticalValue95)
	return s, cv, ok1 && ok2
}

// JohansenComplete reports whether p-value, trace statistic and critical value are all present
func (c Candidate) JohansenComplete() bool {
	_, okP := c.Johansen()
	_, _, okT := c.Trace()
	return okP && okT
}

// StabilityRatio returns stablePeriods/totalObservations when both are present and total > 0
func (c Candidate) StabilityRatio() (float64, bool) {
	if c.StablePeriods == nil || c.TotalObservations == nil || *c.TotalObservations <= 0 {
		return 0, false
	}
	r := float64(*c.StablePeriods) / float64(*c.TotalObservations)
	return math.Max(0, math.Min(1, r)), true
}

// PixelSpread returns the attached average pixel spread
func (c Candidate) PixelSpread() (float64, bool) { return get(c.AvgPixelSpread) }

// Snapshot converts the candidate statistics to a position snapshot; absent values are zero
func (c Candidate) Snapshot() position.StatSnapshot {
	z, _ := c.Z()
	corr, _ := c.Corr()
	jp, _ := c.Johansen()
	adf, _ := c.ADF()
	return position.StatSnapshot{
		ZScore:              z,
		Correlation:         corr,
		CointegrationPValue: jp,
		ADFPValue:           adf,
		Mean:                val(c.Mean),
		Std:                 val(c.Std),
		Spread:              val(c.Spread),
		Alpha:               val(c.Alpha),
		Beta:                val(c.Beta),
	}
}

func get(p *float64) (float64, bool) {
	if p == nil || !isFinite(*p) {
		return 0, false
	}
	return *p, true
}

func val(p *float64) float64 {
	v, _ := get(p)
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
