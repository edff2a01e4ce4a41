package extremum

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/pairsrun/internal/domain/position"
)

func TestObserveFirstInitializesBoth(t *testing.T) {
	e := Observe(position.Extremum{}, 1.5, 7)
	assert.True(t, e.Set)
	assert.Equal(t, 1.5, e.Min)
	assert.Equal(t, 1.5, e.Max)
	assert.Equal(t, int64(7), e.MinAtMinutes)
	assert.Equal(t, int64(7), e.MaxAtMinutes)
}

func TestObserveEqualValuesKeepTimestamps(t *testing.T) {
	e := Observe(position.Extremum{}, 2, 1)
	e = Observe(e, 2, 5)
	e = Observe(e, 2, 9)
	assert.Equal(t, int64(1), e.MaxAtMinutes)
	assert.Equal(t, int64(1), e.MinAtMinutes)
}

func TestObserveIgnoresNonFinite(t *testing.T) {
	e := Observe(position.Extremum{}, 1, 0)
	e = Observe(e, math.NaN(), 1)
	e = Observe(e, math.Inf(1), 2)
	assert.Equal(t, 1.0, e.Max)
	assert.Equal(t, 1.0, e.Min)
}

func TestObserveMatchesTrueExtremes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		var e position.Extremum
		values := make([]float64, 1+rng.Intn(40))
		for i := range values {
			// coarse values so duplicates of the extreme are common
			values[i] = float64(rng.Intn(11) - 5)
			e = Observe(e, values[i], int64(i))
		}

		maxV, minV := values[0], values[0]
		maxIdx, minIdx := 0, 0
		for i, v := range values {
			if v > maxV {
				maxV, maxIdx = v, i
			}
			if v < minV {
				minV, minIdx = v, i
			}
		}

		assert.Equal(t, maxV, e.Max)
		assert.Equal(t, minV, e.Min)
		assert.Equal(t, int64(maxIdx), e.MaxAtMinutes, "max timestamp is first index reaching max")
		assert.Equal(t, int64(minIdx), e.MinAtMinutes, "min timestamp is first index reaching min")
	}
}

func TestTrackUpdatesAllMetrics(t *testing.T) {
	var x position.Extremums
	x = Track(x, Observation{ProfitPercent: 1, ZScore: 2, Correlation: 0.9, LongReturnPercent: 0.5, ShortReturnPercent: 0.5, ElapsedMinutes: 10})
	x = Track(x, Observation{ProfitPercent: -3, ZScore: 1, Correlation: 0.95, LongReturnPercent: -1, ShortReturnPercent: -2, ElapsedMinutes: 20})

	assert.Equal(t, -3.0, x.Profit.Min)
	assert.Equal(t, int64(20), x.Profit.MinAtMinutes)
	assert.Equal(t, 1.0, x.Profit.Max)
	assert.Equal(t, int64(10), x.Profit.MaxAtMinutes)
	assert.Equal(t, 2.0, x.ZScore.Max)
	assert.Equal(t, 0.95, x.Correlation.Max)
	assert.Equal(t, -2.0, x.ShortReturn.Min)
}

func TestCombineKeepsMoreExtreme(t *testing.T) {
	a := position.Extremum{Set: true, Min: -1, Max: 3, MinAtMinutes: 5, MaxAtMinutes: 6}
	b := position.Extremum{Set: true, Min: -2, Max: 2, MinAtMinutes: 8, MaxAtMinutes: 2}

	c := Combine(a, b)
	assert.Equal(t, 3.0, c.Max)
	assert.Equal(t, int64(6), c.MaxAtMinutes)
	assert.Equal(t, -2.0, c.Min)
	assert.Equal(t, int64(8), c.MinAtMinutes)

	assert.Equal(t, a, Combine(a, position.Extremum{}))
	assert.Equal(t, b, Combine(position.Extremum{}, b))
}
