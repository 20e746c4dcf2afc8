package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subvert/internal/persistence"
	"github.com/MimeLyc/subvert/internal/service"
)

const maxRunsLimit = 200

type statusResponse struct {
	service.Status
	NextRun *time.Time `json:"next_run,omitempty"`
}

type runDetailsResponse struct {
	Run      persistence.Run       `json:"run"`
	Outcomes []persistence.Outcome `json:"outcomes"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) currentStatus() statusResponse {
	ret := statusResponse{Status: s.status.Status()}
	if s.launcher != nil {
		if next := s.launcher.NextRun(); !next.IsZero() {
			ret.NextRun = &next
		}
		ret.Running = ret.Running || s.launcher.Running()
	}
	return ret
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.history == nil {
			writeError(w, http.StatusNotImplemented, "run history is not configured")
			return
		}
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		runs, err := s.history.ListRuns(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if runs == nil {
			runs = []persistence.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	case http.MethodPost:
		if s.launcher == nil {
			writeError(w, http.StatusNotImplemented, "walks cannot be triggered")
			return
		}
		if !s.launcher.TriggerAsync(s.runCtx, "api") {
			writeError(w, http.StatusConflict, "a walk is already running")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted": true,
		})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleRunDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "run history is not configured")
		return
	}

	// /api/runs/{id}
	runID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	if decoded, err := url.PathUnescape(runID); err == nil {
		runID = decoded
	}
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	run, ok, err := s.history.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	outcomes, err := s.history.ListOutcomes(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if outcomes == nil {
		outcomes = []persistence.Outcome{}
	}
	writeJSON(w, http.StatusOK, runDetailsResponse{Run: run, Outcomes: outcomes})
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, maxRunsLimit), nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
