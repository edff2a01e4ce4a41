package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls   int
	candles []Candle
	err     error
}

func (s *countingSource) Candles(_ context.Context, _ string, _ int) ([]Candle, error) {
	s.calls++
	return append([]Candle(nil), s.candles...), s.err
}

func series(start time.Time, step time.Duration, closes ...float64) []Candle {
	out := make([]Candle, len(closes))
	for i, c := range closes {
		out[i] = Candle{Time: start.Add(time.Duration(i) * step), Close: c}
	}
	return out
}

func TestInferTimeframe(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := InferTimeframe(series(start, time.Minute, 1))
	assert.ErrorIs(t, err, ErrInsufficientCandles)

	tf, err := InferTimeframe(series(start, 15*time.Minute, 1, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, tf)

	_, err = InferTimeframe([]Candle{{Time: start}, {Time: start}})
	assert.Error(t, err)
}

func TestCachedSourceHitsCacheSecondTime(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &countingSource{candles: series(start, time.Hour, 3, 1, 2)}
	cs := NewCachedSource(src, NewMemoryCache(), time.Minute)

	first, err := cs.Candles(context.Background(), "BTCUSDT", 3)
	require.NoError(t, err)
	second, err := cs.Candles(context.Background(), "BTCUSDT", 3)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	require.Len(t, second, 3)
	assert.True(t, first[0].Time.Equal(second[0].Time))
}

func TestMemoryCacheExpires(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	c := &memory{m: make(map[string]entry), now: func() time.Time { return now }}
	c.Set(context.Background(), "k", []byte("v"), time.Second)

	_, ok := c.Get(context.Background(), "k")
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestFetchPairRequiresTwoCandles(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	src := &countingSource{candles: series(start, time.Hour, 1)}
	_, err := FetchPair(context.Background(), src, "A", "B", 10)
	assert.ErrorIs(t, err, ErrInsufficientCandles)

	src = &countingSource{err: errors.New("boom")}
	_, err = FetchPair(context.Background(), src, "A", "B", 10)
	assert.Error(t, err)
}
