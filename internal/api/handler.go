// Package api implements the operator HTTP surface of the discovery engine.
//
// Routes:
//
//	GET  /health                      → liveness probe
//	GET  /status                      → scheduler status
//	GET  /leads                       → paginated lead list (limit, offset)
//	POST /leads/{id}/status           → move a lead through its lifecycle
//	POST /leads/{id}/convert          → convert a lead to a customer record
//	POST /monitors                    → create a monitor
//	POST /monitors/{id}/start         → arm a monitor's timer
//	POST /monitors/{id}/stop          → disarm a monitor's timer
//	POST /monitors/{id}/run           → run one pass now, return its stats
//	PUT  /monitors/{id}/rules         → replace a monitor's keyword model
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"leadflow/discovery-service/internal/model"
	"leadflow/discovery-service/internal/scheduler"
	"leadflow/discovery-service/internal/store"
)

// Handler holds shared dependencies.
type Handler struct {
	sched    *scheduler.Scheduler
	leads    store.LeadStore
	monitors store.MonitorStore
}

// NewHandler returns a configured Handler.
func NewHandler(sched *scheduler.Scheduler, leads store.LeadStore, monitors store.MonitorStore) *Handler {
	return &Handler{sched: sched, leads: leads, monitors: monitors}
}

// RegisterRoutes mounts all routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	mux.HandleFunc("/leads", h.handleLeads)
	mux.HandleFunc("/leads/", h.handleLeadAction)
	mux.HandleFunc("/monitors", h.handleMonitors)
	mux.HandleFunc("/monitors/", h.handleMonitorAction)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "discovery-service",
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.sched.GetStatus(r.Context()))
}

func (h *Handler) handleLeads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	leads, err := h.leads.ListLeads(r.Context(), limit, offset)
	if err != nil {
		slog.Error("listLeads failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list leads failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"leads":  leads,
		"limit":  limit,
		"offset": offset,
	})
}

// handleLeadAction dispatches /leads/{id}/{action}.
func (h *Handler) handleLeadAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, action, ok := splitAction(r.URL.Path, "/leads/")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "status":
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		status, err := model.ParseStatus(body.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lead, err := h.leads.UpdateStatus(r.Context(), id, status)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lead)

	case "convert":
		customer, err := h.leads.ConvertToCustomer(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, customer)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) handleMonitors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var cfg model.MonitorConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if cfg.Name == "" || len(cfg.Boards) == 0 {
		writeError(w, http.StatusBadRequest, "name and boards are required")
		return
	}
	if cfg.IntervalMinutes < 1 {
		writeError(w, http.StatusBadRequest, "intervalMinutes must be at least 1")
		return
	}

	created, err := h.monitors.CreateMonitor(r.Context(), &cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleMonitorAction dispatches /monitors/{id}/{action} plus the collective
// /monitors/start-all and /monitors/stop-all operations.
func (h *Handler) handleMonitorAction(w http.ResponseWriter, r *http.Request) {
	switch strings.Trim(strings.TrimPrefix(r.URL.Path, "/monitors/"), "/") {
	case "start-all":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := h.sched.StartAll(r.Context()); err != nil {
			slog.Error("startAll failed", "error", err)
			writeError(w, http.StatusInternalServerError, "start all failed")
			return
		}
		writeJSON(w, http.StatusOK, h.sched.GetStatus(r.Context()))
		return
	case "stop-all":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.sched.StopAll()
		writeJSON(w, http.StatusOK, h.sched.GetStatus(r.Context()))
		return
	}

	id, action, ok := splitAction(r.URL.Path, "/monitors/")
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch {
	case action == "start" && r.Method == http.MethodPost:
		cfg, err := h.monitors.GetMonitor(r.Context(), id)
		if err != nil {
			slog.Error("getMonitor failed", "monitor", id, "error", err)
			writeError(w, http.StatusInternalServerError, "load monitor failed")
			return
		}
		if cfg == nil {
			writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		if err := h.sched.StartMonitor(id, cfg.IntervalMinutes); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"monitor": id, "state": "scheduled"})

	case action == "stop" && r.Method == http.MethodPost:
		h.sched.StopMonitor(id)
		writeJSON(w, http.StatusOK, map[string]string{"monitor": id, "state": "stopped"})

	case action == "run" && r.Method == http.MethodPost:
		stats, err := h.sched.RunMonitor(r.Context(), id)
		if err != nil {
			writeRunError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)

	case action == "rules" && r.Method == http.MethodPut:
		var rules model.ScoringRules
		if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := h.monitors.UpdateRules(r.Context(), id, rules); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"monitor": id, "rules": "updated"})

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func splitAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrLeadNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyConverted):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		slog.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "store operation failed")
	}
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scheduler.ErrMonitorNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrMonitorInactive):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, scheduler.ErrPassInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("runMonitor failed", "error", err)
		writeError(w, http.StatusInternalServerError, "run failed")
	}
}
