package candidate

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJohansenFallsBackToLegacyField(t *testing.T) {
	var c Candidate
	require.NoError(t, json.Unmarshal([]byte(`{"long_ticker":"A","short_ticker":"B","cointegration_pvalue":0.02}`), &c))

	p, ok := c.Johansen()
	require.True(t, ok)
	assert.Equal(t, 0.02, p)

	c.JohansenPValue = Float(0.01)
	p, _ = c.Johansen()
	assert.Equal(t, 0.01, p, "new field wins over legacy")
}

func TestZFallsBackToHistory(t *testing.T) {
	c := Candidate{ZScoreHistory: []float64{0.5, 1.7}}
	z, ok := c.Z()
	require.True(t, ok)
	assert.Equal(t, 1.7, z)

	c.LatestZ = Float(math.NaN())
	z, ok = c.Z()
	require.True(t, ok)
	assert.Equal(t, 1.7, z)
}

func TestStabilityRatio(t *testing.T) {
	c := Candidate{StablePeriods: Int(30), TotalObservations: Int(120)}
	r, ok := c.StabilityRatio()
	require.True(t, ok)
	assert.InDelta(t, 0.25, r, 1e-12)

	c.TotalObservations = Int(0)
	_, ok = c.StabilityRatio()
	assert.False(t, ok)
}

func TestJohansenComplete(t *testing.T) {
	c := Candidate{JohansenPValue: Float(0.01), TraceStatistic: Float(25)}
	assert.False(t, c.JohansenComplete())
	c.CriticalValue95 = Float(15.5)
	assert.True(t, c.JohansenComplete())
}

func TestSnapshot(t *testing.T) {
	c := Candidate{LatestZ: Float(2.1), Correlation: Float(0.8), ADFPValue: Float(0.03), Beta: Float(1.2)}
	s := c.Snapshot()
	assert.Equal(t, 2.1, s.ZScore)
	assert.Equal(t, 0.8, s.Correlation)
	assert.Equal(t, 0.03, s.ADFPValue)
	assert.Equal(t, 1.2, s.Beta)
	assert.Zero(t, s.CointegrationPValue)
}
