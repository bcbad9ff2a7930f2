package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foliokit/rebalancer/internal/recurrence"
	"github.com/foliokit/rebalancer/internal/schedule"
)

// maxRequestBytes caps request bodies; schedule and order-preview
// payloads are small JSON documents.
const maxRequestBytes = 1 << 20

// scheduleRequest is the write shape for create and update.
type scheduleRequest struct {
	PortfolioID   string `json:"portfolio_id"`
	Name          string `json:"name"`
	IntervalValue int    `json:"interval_value"`
	IntervalUnit  string `json:"interval_unit"`
	DaysOfWeek    []int  `json:"days_of_week"`
	DaysOfMonth   []int  `json:"days_of_month"`
	Hour          int    `json:"hour"`
	Minute        int    `json:"minute"`
	Timezone      string `json:"timezone"`
	Enabled       *bool  `json:"enabled"`
}

func (r *scheduleRequest) apply(s *schedule.Schedule) {
	s.PortfolioID = r.PortfolioID
	s.Name = r.Name
	s.IntervalValue = r.IntervalValue
	s.IntervalUnit = recurrence.Unit(r.IntervalUnit)
	s.DaysOfWeek = r.DaysOfWeek
	s.DaysOfMonth = r.DaysOfMonth
	s.Hour = r.Hour
	s.Minute = r.Minute
	s.Timezone = r.Timezone
	if r.Enabled != nil {
		s.Enabled = *r.Enabled
	}
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return false
	}
	return true
}

// refreshNextRun recomputes the cached next run for a record about to
// be stored. Paused and misconfigured schedules carry a zero cache;
// misconfiguration beyond what Validate catches is reported.
func (s *Server) refreshNextRun(rec *schedule.Schedule, now time.Time) {
	next, err := recurrence.NextRun(rec.Recurrence(), now)
	switch {
	case err == nil:
		rec.NextRunAt = next.UTC()
	case errors.Is(err, recurrence.ErrPaused):
		rec.NextRunAt = time.Time{}
	default:
		rec.NextRunAt = time.Time{}
		s.logger.Warn("schedule stored without a computable next run",
			slog.String("schedule_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !s.decode(w, r, &req) {
		return
	}

	stamp := s.clock.Now(r.Context())
	rec := schedule.New(req.PortfolioID, req.Name, stamp.Time)
	req.apply(rec)

	if err := rec.Validate(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.refreshNextRun(rec, stamp.Time)

	if err := s.store.Put(rec); err != nil {
		s.logger.Error("failed to store schedule", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, errors.New("storage failure"))
		return
	}

	s.hub.NotifyChanged("created", rec)
	s.writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List()
	if err != nil {
		s.logger.Error("failed to list schedules", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, errors.New("storage failure"))
		return
	}
	if list == nil {
		list = []*schedule.Schedule{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.scheduleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.scheduleError(w, err)
		return
	}

	var req scheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.apply(rec)

	if err := rec.Validate(); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	stamp := s.clock.Now(r.Context())
	rec.UpdatedAt = stamp.Time.UTC()
	s.refreshNextRun(rec, stamp.Time)

	if err := s.store.Put(rec); err != nil {
		s.logger.Error("failed to store schedule", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, errors.New("storage failure"))
		return
	}

	s.hub.NotifyChanged("updated", rec)
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.store.Get(id)
	if err != nil {
		s.scheduleError(w, err)
		return
	}
	if err := s.store.Delete(id); err != nil {
		s.scheduleError(w, err)
		return
	}
	s.hub.NotifyChanged("deleted", rec)
	w.WriteHeader(http.StatusNoContent)
}

// nextRunResponse is the preview shape rendered by the dashboard.
type nextRunResponse struct {
	ScheduleID string     `json:"schedule_id"`
	Status     string     `json:"status"` // "scheduled" or "paused"
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	// Approximate is true when the preview was computed against the
	// local clock because the trusted time source was unreachable.
	Approximate bool `json:"approximate"`
}

func (s *Server) handleNextRun(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.scheduleError(w, err)
		return
	}

	stamp := s.clock.Now(r.Context())
	next, err := recurrence.NextRun(rec.Recurrence(), stamp.Time)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, nextRunResponse{
			ScheduleID:  rec.ID,
			Status:      "scheduled",
			NextRunAt:   &next,
			Approximate: stamp.Approximate,
		})
	case errors.Is(err, recurrence.ErrPaused):
		s.writeJSON(w, http.StatusOK, nextRunResponse{
			ScheduleID:  rec.ID,
			Status:      "paused",
			Approximate: stamp.Approximate,
		})
	default:
		// Configuration defects (bad timezone, unsatisfiable
		// constraints, exhausted catch-up) are the owner's to fix.
		s.writeError(w, http.StatusUnprocessableEntity, err)
	}
}

// timeResponse mirrors the platform time endpoint so the dashboard
// renders a trusted clock even when the browser's clock is skewed.
type timeResponse struct {
	ServerTime  time.Time `json:"server_time"`
	Approximate bool      `json:"approximate"`
}

func (s *Server) handleTime(w http.ResponseWriter, r *http.Request) {
	stamp := s.clock.Now(r.Context())
	s.writeJSON(w, http.StatusOK, timeResponse{
		ServerTime:  stamp.Time,
		Approximate: stamp.Approximate,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.healthy() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

func (s *Server) handleBrokerageAccount(w http.ResponseWriter, r *http.Request) {
	resp, err := s.broker.GetAccount(r.Context(), r.PathValue("accountID"), bearerToken(r))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func (s *Server) handleBrokeragePreview(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("malformed request body"))
		return
	}
	resp, err := s.broker.PreviewOrder(r.Context(), bearerToken(r), body)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func (s *Server) scheduleError(w http.ResponseWriter, err error) {
	if errors.Is(err, schedule.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.logger.Error("storage failure", slog.String("error", err.Error()))
	s.writeError(w, http.StatusInternalServerError, errors.New("storage failure"))
}
