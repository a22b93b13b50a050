package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/abood991b/insightbull/internal/domain"
	"github.com/abood991b/insightbull/internal/pipeline"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// runRequest is the trigger payload for a manual pipeline run.
type runRequest struct {
	Symbols      []string `json:"symbols"`
	LookbackDays int      `json:"lookback_days"`
	RunType      string   `json:"run_type"`
}

func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if r.Body != nil {
		// An empty body means "run with defaults".
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	lookback := req.LookbackDays
	if lookback <= 0 {
		lookback = 1
	}
	runType := domain.RunType(strings.ToLower(req.RunType))
	if runType == "" {
		runType = domain.RunStrategic
	}

	result := s.pipeline.Run(r.Context(), pipeline.Config{
		Symbols:            req.Symbols,
		DateRange:          domain.LastDays(lookback),
		EnabledSources:     runType.SourcesFor(),
		ParallelCollectors: true,
	})

	status := http.StatusOK
	if result.Status == domain.StatusRunning {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, result)
}

func (s *Server) handlePipelineCancel(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Cancel()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation_requested"})
}

func (s *Server) handlePipelineStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Status())
}

func (s *Server) handlePipelineHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.HealthCheck(r.Context()))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.ListJobs())
}

func (s *Server) handleEnableJob(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.EnableJob(chi.URLParam(r, "jobID")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

func (s *Server) handleDisableJob(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.DisableJob(chi.URLParam(r, "jobID")); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.CancelJob(chi.URLParam(r, "jobID")); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancellation_requested"})
}

func (s *Server) handleRefreshJobs(w http.ResponseWriter, r *http.Request) {
	s.scheduler.RefreshScheduledJobs()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			days = n
		}
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.GetRunHistory(days))
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			since = ts
		}
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.GetRecentJobEvents(since))
}

func (s *Server) handleQuotaStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.QuotaStatus())
}

func (s *Server) handleListTickers(w http.ResponseWriter, r *http.Request) {
	tickers, err := s.store.Tickers.GetAllActive()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tickers == nil {
		tickers = []domain.Ticker{}
	}
	s.writeJSON(w, http.StatusOK, tickers)
}

func (s *Server) handleActivateTicker(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if _, err := s.store.Tickers.EnsureTicker(symbol); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.Tickers.SetActive(symbol, true); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *Server) handleDeactivateTicker(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Tickers.SetActive(chi.URLParam(r, "symbol"), false); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "inactive"})
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := s.store.Tickers.SetPriority(chi.URLParam(r, "symbol"), req.Priority); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleTickerSentiments(w http.ResponseWriter, r *http.Request) {
	ticker, err := s.store.Tickers.GetBySymbol(chi.URLParam(r, "symbol"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ticker == nil {
		s.writeError(w, http.StatusNotFound, "ticker not found")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	rows, err := s.store.Sentiments.RecentForTicker(ticker.ID, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}

// handleHealth reports process-level health with basic system stats.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status":     "ok",
		"timestamp":  time.Now().UTC(),
		"goroutines": runtime.NumGoroutine(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		payload["memory_used_percent"] = vm.UsedPercent
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		payload["cpu_percent"] = percents[0]
	}

	s.writeJSON(w, http.StatusOK, payload)
}
