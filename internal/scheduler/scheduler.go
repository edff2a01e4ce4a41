package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/lifecycle"
	"github.com/sawpanic/pairsrun/internal/metrics"
	"github.com/sawpanic/pairsrun/internal/persistence"
	"github.com/sawpanic/pairsrun/internal/selector"
)

// Job names
const (
	JobSelection       = "selection.run"
	JobPositionsUpdate = "positions.update"
	JobPositionCycle   = "position.cycle"
)

// SelectionRunner runs one selection pass
type SelectionRunner interface {
	Run(ctx context.Context) (selector.RunResult, error)
}

// CycleRunner runs one update cycle for a position
type CycleRunner interface {
	RunCycle(ctx context.Context, id string) (lifecycle.CycleResult, error)
}

// Config holds the job intervals
type Config struct {
	UpdateInterval    time.Duration
	SelectionInterval time.Duration
}

// Status represents scheduler status
type Status struct {
	Running bool                 `json:"running"`
	Uptime  time.Duration        `json:"uptime"`
	LastRun map[string]time.Time `json:"last_run"`
	Runs    map[string]int       `json:"runs"`
	Errors  map[string]int       `json:"errors"`
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
}

// Scheduler runs the selection pipeline and the position update cycles on
// their intervals. Each position's cycle runs in its own goroutine; a failure
// or panic there is logged with the pair and affects no other position. A
// position whose previous cycle is still running is skipped for that tick, and
// a slow cycle never delays the ticks of other positions.
type Scheduler struct {
	config    Config
	selection SelectionRunner
	cycles    CycleRunner
	repo      persistence.PositionsRepo
	metrics   *metrics.Registry

	mu        sync.Mutex
	running   bool
	startTime time.Time
	lastRun   map[string]time.Time
	runs      map[string]int
	errs      map[string]int
	inFlight  map[string]struct{}

	// detached update ticks
	pending sync.WaitGroup
}

// New creates a scheduler; metrics may be nil
func New(config Config, selection SelectionRunner, cycles CycleRunner, repo persistence.PositionsRepo, m *metrics.Registry) *Scheduler {
	return &Scheduler{
		config:    config,
		selection: selection,
		cycles:    cycles,
		repo:      repo,
		metrics:   m,
		lastRun:   make(map[string]time.Time),
		runs:      make(map[string]int),
		errs:      make(map[string]int),
		inFlight:  make(map[string]struct{}),
	}
}

// GetStatus returns current scheduler status
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running: s.running,
		LastRun: make(map[string]time.Time, len(s.lastRun)),
		Runs:    make(map[string]int, len(s.runs)),
		Errors:  make(map[string]int, len(s.errs)),
	}
	if s.running {
		st.Uptime = time.Since(s.startTime)
	}
	for k, v := range s.lastRun {
		st.LastRun[k] = v
	}
	for k, v := range s.runs {
		st.Runs[k] = v
	}
	for k, v := range s.errs {
		st.Errors[k] = v
	}
	return st
}

// Start runs both jobs once and then on their intervals until ctx is done.
// Selection passes never overlap. Update ticks are started without waiting for
// the previous one. Cancellation stops new runs; runs in progress complete
// before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.config.UpdateInterval <= 0 || s.config.SelectionInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}

	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Info().
		Dur("update_interval", s.config.UpdateInterval).
		Dur("selection_interval", s.config.SelectionInterval).
		Msg("Scheduler starting")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, JobSelection, s.config.SelectionInterval, false)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, JobPositionsUpdate, s.config.UpdateInterval, true)
	}()
	wg.Wait()
	s.pending.Wait()

	log.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, job string, every time.Duration, detach bool) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	run := func() {
		if _, err := s.RunJob(ctx, job); err != nil {
			log.Error().Err(err).Str("job", job).Msg("Job failed to start")
		}
	}
	for {
		if detach {
			s.pending.Add(1)
			go func() {
				defer s.pending.Done()
				run()
			}()
		} else {
			run()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunJob executes a specific job immediately
func (s *Scheduler) RunJob(ctx context.Context, jobName string) (*JobResult, error) {
	startTime := time.Now()
	result := &JobResult{JobName: jobName, StartTime: startTime, Success: true}

	var err error
	switch jobName {
	case JobSelection:
		err = s.runSelection(ctx, result)
	case JobPositionsUpdate:
		err = s.runUpdates(ctx, result)
	default:
		return nil, fmt.Errorf("job not found: %s", jobName)
	}
	if err != nil {
		result.Success = false
		result.Error = err.Error()
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)
	s.record(result)
	return result, nil
}

func (s *Scheduler) record(r *JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[r.JobName] = r.EndTime
	s.runs[r.JobName]++
	if !r.Success {
		s.errs[r.JobName]++
	}
}

func (s *Scheduler) runSelection(ctx context.Context, result *JobResult) (err error) {
	timer := s.startTimer(JobSelection)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("selection panicked: %v", r)
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Selection pass panicked")
		}
		timer(resultLabel(err))
	}()

	out, err := s.selection.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Selection pass failed")
		return err
	}
	result.Processed = len(out.Created)
	return nil
}

// runUpdates starts one goroutine per TRADING position that has no cycle in
// flight and waits for the ones it started
func (s *Scheduler) runUpdates(ctx context.Context, result *JobResult) error {
	timer := s.startTimer(JobPositionsUpdate)

	trading, err := s.repo.ListByStatus(ctx, position.StatusTrading)
	if err != nil {
		timer("error")
		return fmt.Errorf("failed to list trading positions: %w", err)
	}
	s.refreshGauge(ctx)

	// Cycles run to completion even if the scheduler is stopping
	cycleCtx := context.WithoutCancel(ctx)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		failed  int
		started int
		skipped int
	)
	for _, rec := range trading {
		if !s.claim(rec.ID) {
			skipped++
			log.Debug().
				Str("position_id", rec.ID).
				Str("pair", rec.Pair()).
				Msg("Previous cycle still running, skipped")
			continue
		}
		started++
		wg.Add(1)
		go func(rec *position.Record) {
			defer wg.Done()
			defer s.release(rec.ID)
			if err := s.runCycle(cycleCtx, rec); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(rec)
	}
	wg.Wait()

	result.Processed = started
	result.Failed = failed
	result.Skipped = skipped
	if failed > 0 {
		timer("partial")
	} else {
		timer("ok")
	}
	return nil
}

// claim marks id as having a cycle in flight; false if one already is
func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

func (s *Scheduler) runCycle(ctx context.Context, rec *position.Record) (err error) {
	timer := s.startTimer(JobPositionCycle)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			log.Error().
				Str("position_id", rec.ID).
				Str("pair", rec.Pair()).
				Str("long_ticker", rec.LongTicker).
				Str("short_ticker", rec.ShortTicker).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Position cycle panicked, skipped")
			timer("panic")
			return
		}
		timer(resultLabel(err))
	}()

	_, err = s.cycles.RunCycle(ctx, rec.ID)
	switch {
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		// closed or errored since it was listed
		return nil
	case err != nil:
		log.Error().Err(err).
			Str("position_id", rec.ID).
			Str("pair", rec.Pair()).
			Str("long_ticker", rec.LongTicker).
			Str("short_ticker", rec.ShortTicker).
			Msg("Position cycle failed, skipped")
		return err
	}
	return nil
}

func (s *Scheduler) refreshGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	recs, err := s.repo.ListByStatus(ctx, position.StatusSelected, position.StatusTrading, position.StatusObserved)
	if err != nil {
		return
	}
	counts := map[string]int{
		string(position.StatusSelected): 0,
		string(position.StatusTrading):  0,
		string(position.StatusObserved): 0,
	}
	for _, r := range recs {
		counts[string(r.Status)]++
	}
	s.metrics.SetPositions(counts)
}

func (s *Scheduler) startTimer(job string) func(result string) {
	if s.metrics == nil {
		return func(string) {}
	}
	t := s.metrics.StartJobTimer(job)
	return func(result string) { t.Stop(result) }
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
