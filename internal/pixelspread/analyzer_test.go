package pixelspread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairsrun/internal/marketdata"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func candles(step time.Duration, offset time.Duration, closes ...float64) []marketdata.Candle {
	out := make([]marketdata.Candle, len(closes))
	for i, c := range closes {
		out[i] = marketdata.Candle{Time: t0.Add(offset + time.Duration(i)*step), Close: c}
	}
	return out
}

func TestComputeKnownGeometry(t *testing.T) {
	z := []float64{-2.5, 0, 2.5}
	long := candles(time.Hour, 0, 10, 20, 30)
	short := candles(time.Hour, 0, 10, 30, 20)

	samples, err := Compute(z, long, short)
	require.NoError(t, err)
	require.Len(t, samples, 3)

	assert.InDelta(t, 0, samples[0].Pixels, 1e-9)
	assert.InDelta(t, 360, samples[1].Pixels, 1e-9)
	assert.InDelta(t, 360, samples[2].Pixels, 1e-9)

	stats := Summarize(samples)
	assert.InDelta(t, 240, stats.Average, 1e-9)
	assert.InDelta(t, 360, stats.Max, 1e-9)
	assert.InDelta(t, 0, stats.Min, 1e-9)
	assert.InDelta(t, 360, stats.Current, 1e-9)
	assert.Equal(t, 3, stats.Count)
	assert.InDelta(t, 169.7056, stats.StdDev, 1e-3)
}

func TestComputeInvertedSeriesHitsFullHeight(t *testing.T) {
	samples, err := Compute([]float64{-1, 1}, candles(time.Hour, 0, 1, 2), candles(time.Hour, 0, 2, 1))
	require.NoError(t, err)
	for _, s := range samples {
		assert.InDelta(t, ChartHeight, s.Pixels, 1e-9)
	}
}

func TestComputeUsesNearestValueOnUnionOfTimestamps(t *testing.T) {
	// short is shifted by 20 minutes, so the union has 4 stamps
	long := candles(time.Hour, 0, 1, 2)
	short := candles(time.Hour, 20*time.Minute, 1, 2)

	samples, err := Compute([]float64{0, 1}, long, short)
	require.NoError(t, err)
	require.Len(t, samples, 4)

	// t0: long=0, short nearest is its first point -> 0
	assert.InDelta(t, 0, samples[0].Pixels, 1e-9)
	// t0+20m: long nearest is t0 (20m) not t0+1h (40m) -> long 0, short 0
	assert.InDelta(t, 0, samples[1].Pixels, 1e-9)
	// t0+1h: long=1, short nearest is t0+20m (40m) vs t0+1h20m (20m) -> short 1
	assert.InDelta(t, 0, samples[2].Pixels, 1e-9)
}

func TestComputeFlatSeriesSitsAtMidpoint(t *testing.T) {
	samples, err := Compute([]float64{-2, 2}, candles(time.Hour, 0, 5, 5), candles(time.Hour, 0, 1, 2))
	require.NoError(t, err)
	assert.InDelta(t, 360, samples[0].Pixels, 1e-9)
	assert.InDelta(t, 360, samples[1].Pixels, 1e-9)
}

func TestComputeErrors(t *testing.T) {
	_, err := Compute([]float64{1}, candles(time.Hour, 0, 1, 2), candles(time.Hour, 0, 1, 2))
	assert.ErrorIs(t, err, ErrNoZRange)

	_, err = Compute([]float64{1, 1}, candles(time.Hour, 0, 1, 2), candles(time.Hour, 0, 1, 2))
	assert.ErrorIs(t, err, ErrNoZRange)

	_, err = Compute([]float64{0, 1}, nil, candles(time.Hour, 0, 1, 2))
	assert.ErrorIs(t, err, ErrEmptySeries)
}

func TestRatioBands(t *testing.T) {
	assert.Equal(t, 0.0, Ratio(-1))
	assert.Equal(t, 0.0, Ratio(721))
	assert.InDelta(t, 0.10, Ratio(0), 1e-12)
	assert.InDelta(t, 0.35, Ratio(120), 1e-12)
	assert.InDelta(t, 0.80, Ratio(360), 1e-12)
	assert.InDelta(t, 1.00, Ratio(480), 1e-12)
	assert.InDelta(t, 0.65, Ratio(600), 1e-12)
	assert.InDelta(t, 0.30, Ratio(720), 1e-12)
}

func TestRatioContinuousAtBoundaries(t *testing.T) {
	const eps = 1e-9
	for _, b := range []float64{240, 480} {
		assert.InDelta(t, Ratio(b), Ratio(b+eps), 1e-6, "boundary %v", b)
		assert.InDelta(t, Ratio(b-eps), Ratio(b), 1e-6, "boundary %v", b)
	}
}
