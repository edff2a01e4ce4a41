package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairsrun/internal/lifecycle"
	"github.com/sawpanic/pairsrun/internal/marketdata"
	"github.com/sawpanic/pairsrun/internal/persistence"
	"github.com/sawpanic/pairsrun/internal/selector"
)

var (
	_ persistence.ConflictObserver = (*Registry)(nil)
	_ selector.Observer            = (*Registry)(nil)
	_ lifecycle.Observer           = (*Registry)(nil)
	_ marketdata.CacheObserver     = (*Registry)(nil)
)

func TestRegistryCounters(t *testing.T) {
	r := NewRegistry()

	r.CandidateRejected("missing_data")
	r.CandidateRejected("missing_data")
	r.CandidateRejected("invalid_input")
	r.CandidateScored(59.5)
	r.PositionCreated()
	r.ExitTriggered("stop")
	r.OnConflict()
	r.OnConflict()
	r.OnRetriesExhausted()
	r.OnDeleted()
	r.CacheHit("candles")
	r.CacheMiss("candles")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.CandidatesRejected.WithLabelValues("missing_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CandidatesRejected.WithLabelValues("invalid_input")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CandidatesScored))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PositionsSelected))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Exits.WithLabelValues("stop")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.StoreConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.StoreRetriesExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.StoreDeletedOnConflict))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheHits.WithLabelValues("candles")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.CacheMisses.WithLabelValues("candles")))
}

func TestJobTimerObservesHistogram(t *testing.T) {
	r := NewRegistry()
	r.StartJobTimer("position_cycle").Stop("ok")
	r.StartJobTimer("position_cycle").Stop("error")

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)

	var hist *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "pairsrun_cycle_duration_seconds" {
			hist = f
		}
	}
	require.NotNil(t, hist)
	require.Len(t, hist.GetMetric(), 2)
	for _, m := range hist.GetMetric() {
		assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	}
}

func TestSetPositions(t *testing.T) {
	r := NewRegistry()
	r.SetPositions(map[string]int{"TRADING": 3, "SELECTED": 1})
	r.SetPositions(map[string]int{"TRADING": 2})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ActivePositions.WithLabelValues("TRADING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ActivePositions.WithLabelValues("SELECTED")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRegistry()
	r.ExitTriggered("take")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `pairsrun_exits_total{reason="take"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
