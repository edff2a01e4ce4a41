package http

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/sawpanic/pairsrun/internal/scheduler"
)

// Check probes one dependency; a nil error means it passed
type Check func(ctx context.Context) error

// StatusSource reports scheduler state
type StatusSource interface {
	GetStatus() scheduler.Status
}

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	checks    map[string]Check
	scheduler StatusSource
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler; checks and sched may be nil
func NewHealthHandler(checks map[string]Check, sched StatusSource, version string) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		scheduler: sched,
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"` // "healthy" or "unhealthy"
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`

	System    SystemInfo             `json:"system"`
	Scheduler *scheduler.Status      `json:"scheduler,omitempty"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status    string        `json:"status"` // "pass" or "fail"
	Message   string        `json:"message,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// ServeHTTP implements the health check endpoint
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.gather(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	if response.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) gather(ctx context.Context) HealthResponse {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAlloc:      mem.Alloc,
			NumGC:         mem.NumGC,
		},
		Checks: make(map[string]CheckResult, len(h.checks)),
	}
	if h.scheduler != nil {
		st := h.scheduler.GetStatus()
		resp.Scheduler = &st
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		start := time.Now()
		err := h.checks[name](ctx)
		res := CheckResult{Status: "pass", Duration: time.Since(start), Timestamp: time.Now().UTC()}
		if err != nil {
			res.Status = "fail"
			res.Message = err.Error()
			resp.Status = "unhealthy"
		}
		resp.Checks[name] = res
	}
	return resp
}
