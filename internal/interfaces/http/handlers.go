package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pairsrun/internal/domain/position"
	"github.com/sawpanic/pairsrun/internal/lifecycle"
	"github.com/sawpanic/pairsrun/internal/persistence"
)

// PositionCloser flags a trading position for manual close
type PositionCloser interface {
	RequestClose(ctx context.Context, id string) (*position.Record, error)
}

// Handlers serves the position endpoints
type Handlers struct {
	repo   persistence.PositionsRepo
	closer PositionCloser
}

// NewHandlers creates a new handlers instance; closer may be nil for a
// read-only API
func NewHandlers(repo persistence.PositionsRepo, closer PositionCloser) *Handlers {
	return &Handlers{repo: repo, closer: closer}
}

var defaultStatuses = []position.Status{position.StatusSelected, position.StatusTrading, position.StatusObserved}

// Positions handles GET /positions?status=TRADING,SELECTED
func (h *Handlers) Positions(w http.ResponseWriter, r *http.Request) {
	statuses := defaultStatuses
	if raw := r.URL.Query().Get("status"); raw != "" {
		statuses = nil
		for _, part := range strings.Split(raw, ",") {
			s := position.Status(strings.ToUpper(strings.TrimSpace(part)))
			if !s.Valid() {
				h.writeError(w, r, http.StatusBadRequest, "invalid_status", "unknown status "+part)
				return
			}
			statuses = append(statuses, s)
		}
	}

	recs, err := h.repo.ListByStatus(r.Context(), statuses...)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list positions")
		h.writeError(w, r, http.StatusInternalServerError, "list_failed", "failed to list positions")
		return
	}

	resp := PositionsResponse{
		Timestamp: time.Now().UTC(),
		Statuses:  statuses,
		Count:     len(recs),
		Positions: make([]PositionSummary, 0, len(recs)),
		Summary:   PositionsSummary{ByStatus: make(map[position.Status]int)},
	}
	var profit float64
	for _, rec := range recs {
		resp.Positions = append(resp.Positions, summarize(rec))
		resp.Summary.ByStatus[rec.Status]++
		profit += rec.ProfitPercent
		if rec.CloseRequested {
			resp.Summary.CloseRequests++
		}
	}
	if len(recs) > 0 {
		resp.Summary.AvgProfit = profit / float64(len(recs))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Position handles GET /positions/{id}
func (h *Handlers) Position(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.repo.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// Close handles POST /positions/{id}/close
func (h *Handlers) Close(w http.ResponseWriter, r *http.Request) {
	if h.closer == nil {
		h.writeError(w, r, http.StatusMethodNotAllowed, "read_only", "manual close is not enabled")
		return
	}
	id := mux.Vars(r)["id"]
	rec, err := h.closer.RequestClose(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, CloseResponse{
		ID:             rec.ID,
		Status:         rec.Status,
		CloseRequested: rec.CloseRequested,
		Message:        "position will close on its next update cycle",
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		h.writeError(w, r, http.StatusNotFound, "position_not_found", err.Error())
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		h.writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Position request failed")
		h.writeError(w, r, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
