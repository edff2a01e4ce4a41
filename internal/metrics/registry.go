package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds the Prometheus metrics of the pairs engine. It satisfies the
// observer interfaces of the store, selector, lifecycle manager and candle cache.
type Registry struct {
	reg *prometheus.Registry

	// Selection
	CandidatesRejected *prometheus.CounterVec
	CandidatesScored   prometheus.Counter
	CandidateScore     prometheus.Histogram
	PositionsSelected  prometheus.Counter

	// Lifecycle
	Exits           *prometheus.CounterVec
	CycleDuration   *prometheus.HistogramVec
	ActivePositions *prometheus.GaugeVec

	// Store
	StoreConflicts         prometheus.Counter
	StoreRetriesExhausted  prometheus.Counter
	StoreDeletedOnConflict prometheus.Counter

	// Candle cache
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// NewRegistry creates the metrics on a private registry that also carries the
// Go runtime and process collectors
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		CandidatesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairsrun_candidates_rejected_total",
				Help: "Candidates dropped before selection, by reason",
			},
			[]string{"reason"},
		),
		CandidatesScored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pairsrun_candidates_scored_total",
				Help: "Candidates that passed the filter and were scored",
			},
		),
		CandidateScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pairsrun_candidate_score",
				Help:    "Distribution of candidate quality scores",
				Buckets: prometheus.LinearBuckets(0, 10, 13),
			},
		),
		PositionsSelected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pairsrun_positions_selected_total",
				Help: "Positions created in SELECTED",
			},
		),

		Exits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairsrun_exits_total",
				Help: "Closed positions by exit reason",
			},
			[]string{"reason"},
		),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pairsrun_cycle_duration_seconds",
				Help:    "Duration of scheduled jobs in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"job", "result"},
		),
		ActivePositions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pairsrun_positions",
				Help: "Positions currently in each non-terminal status",
			},
			[]string{"status"},
		),

		StoreConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pairsrun_store_version_conflicts_total",
				Help: "Position writes that lost a version check and were merged",
			},
		),
		StoreRetriesExhausted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pairsrun_store_retries_exhausted_total",
				Help: "Position writes abandoned after the last retry",
			},
		),
		StoreDeletedOnConflict: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "pairsrun_store_deleted_records_total",
				Help: "Position writes that found the record deleted",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairsrun_cache_hits_total",
				Help: "Cache hits by cache",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairsrun_cache_misses_total",
				Help: "Cache misses by cache",
			},
			[]string{"cache"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.CandidatesRejected,
		r.CandidatesScored,
		r.CandidateScore,
		r.PositionsSelected,
		r.Exits,
		r.CycleDuration,
		r.ActivePositions,
		r.StoreConflicts,
		r.StoreRetriesExhausted,
		r.StoreDeletedOnConflict,
		r.CacheHits,
		r.CacheMisses,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) CandidateRejected(reason string) {
	r.CandidatesRejected.WithLabelValues(reason).Inc()
}

func (r *Registry) CandidateScored(total float64) {
	r.CandidatesScored.Inc()
	r.CandidateScore.Observe(total)
}

// PositionCreated counts a new SELECTED record
func (r *Registry) PositionCreated() { r.PositionsSelected.Inc() }

func (r *Registry) ExitTriggered(reason string) {
	r.Exits.WithLabelValues(reason).Inc()
}

func (r *Registry) OnConflict()         { r.StoreConflicts.Inc() }
func (r *Registry) OnRetriesExhausted() { r.StoreRetriesExhausted.Inc() }
func (r *Registry) OnDeleted()          { r.StoreDeletedOnConflict.Inc() }

func (r *Registry) CacheHit(cache string)  { r.CacheHits.WithLabelValues(cache).Inc() }
func (r *Registry) CacheMiss(cache string) { r.CacheMisses.WithLabelValues(cache).Inc() }

// SetPositions records the current count for each status
func (r *Registry) SetPositions(counts map[string]int) {
	for status, n := range counts {
		r.ActivePositions.WithLabelValues(status).Set(float64(n))
	}
}

// JobTimer tracks execution time of one scheduled job
type JobTimer struct {
	metrics *Registry
	job     string
	start   time.Time
}

// StartJobTimer begins timing a job
func (r *Registry) StartJobTimer(job string) *JobTimer {
	return &JobTimer{metrics: r, job: job, start: time.Now()}
}

// Stop records the duration under result ("ok", "error", "skipped", "panic")
func (t *JobTimer) Stop(result string) time.Duration {
	d := time.Since(t.start)
	t.metrics.CycleDuration.WithLabelValues(t.job, result).Observe(d.Seconds())

	log.Debug().
		Str("job", t.job).
		Str("result", result).
		Dur("duration", d).
		Msg("Job completed")
	return d
}
