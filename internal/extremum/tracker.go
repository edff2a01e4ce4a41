// Package extremum keeps running min/max values of position metrics.
package extremum

import (
	"math"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

// Observation is one set of metric values taken during an update cycle
type Observation struct {
	ProfitPercent      float64
	ZScore             float64
	Correlation        float64
	LongReturnPercent  float64
	ShortReturnPercent float64
	ElapsedMinutes     int64
}

// Observe folds v into e. The first observation initializes both ends; after
// that only a strictly greater value moves the max and a strictly lower value
// moves the min, so repeated identical input never changes the timestamps.
func Observe(e position.Extremum, v float64, elapsedMinutes int64) position.Extremum {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return e
	}
	if !e.Set {
		return position.Extremum{
			Set:          true,
			Min:          v,
			Max:          v,
			MinAtMinutes: elapsedMinutes,
			MaxAtMinutes: elapsedMinutes,
		}
	}
	if v > e.Max {
		e.Max = v
		e.MaxAtMinutes = elapsedMinutes
	}
	if v < e.Min {
		e.Min = v
		e.MinAtMinutes = elapsedMinutes
	}
	return e
}

// Track applies one observation to every tracked metric
func Track(x position.Extremums, o Observation) position.Extremums {
	m := o.ElapsedMinutes
	x.Profit = Observe(x.Profit, o.ProfitPercent, m)
	x.ZScore = Observe(x.ZScore, o.ZScore, m)
	x.Correlation = Observe(x.Correlation, o.Correlation, m)
	x.LongReturn = Observe(x.LongReturn, o.LongReturnPercent, m)
	x.ShortReturn = Observe(x.ShortReturn, o.ShortReturnPercent, m)
	return x
}

// Combine merges two extremums of the same metric, keeping the more extreme
// value on each side. Used when reconciling concurrent writers.
func Combine(a, b position.Extremum) position.Extremum {
	if !a.Set {
		return b
	}
	if !b.Set {
		return a
	}
	out := a
	if b.Max > out.Max || (b.Max == out.Max && b.MaxAtMinutes < out.MaxAtMinutes) {
		out.Max = b.Max
		out.MaxAtMinutes = b.MaxAtMinutes
	}
	if b.Min < out.Min || (b.Min == out.Min && b.MinAtMinutes < out.MinAtMinutes) {
		out.Min = b.Min
		out.MinAtMinutes = b.MinAtMinutes
	}
	return out
}

// CombineAll merges every metric of two extremum sets
func CombineAll(a, b position.Extremums) position.Extremums {
	return position.Extremums{
		Profit:      Combine(a.Profit, b.Profit),
		ZScore:      Combine(a.ZScore, b.ZScore),
		Correlation: Combine(a.Correlation, b.Correlation),
		LongReturn:  Combine(a.LongReturn, b.LongReturn),
		ShortReturn: Combine(a.ShortReturn, b.ShortReturn),
	}
}
