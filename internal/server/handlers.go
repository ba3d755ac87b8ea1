package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"openvpn-configd/internal/journal"
	"openvpn-configd/internal/request"
	"openvpn-configd/internal/version"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Current().Version,
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Current())
}

// handleApply decodes a configuration request on top of the defaults, runs
// one reconciliation, records the run, and returns the result. Validation
// failures map to 400, apply failures to 500; the result body is returned
// either way.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req, err := request.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	started := time.Now().UTC()
	result, applyErr := s.applier.Apply(&req)

	if s.history != nil {
		entry := journal.Entry{
			StartedAt: started,
			Action:    req.Action,
			Changed:   result.Changed,
			Message:   result.Message,
			Status:    result.Status,
			Failed:    result.Failed,
		}
		if err := s.history.Record(entry); err != nil {
			// Journaling is best-effort: a full disk must not mask the
			// reconciliation outcome.
			logPrintf("journal record failed: %v", err)
		}
	}

	status := http.StatusOK
	if applyErr != nil {
		status = http.StatusInternalServerError
		if errors.Is(applyErr, request.ErrInvalidParameter) {
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, result)
}

// handleStatus reports the service state for the default unit (or the unit
// named in the query). Read-only.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	unit := r.URL.Query().Get("unit")
	if unit == "" {
		unit = s.defaultUnit
	}
	ctl, err := s.newController(unit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	active, state, err := ctl.IsActive()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	text, err := ctl.Status()
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"unit":   unit,
		"active": active,
		"state":  state,
		"status": text,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []journal.Entry{})
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}
	entries, err := s.history.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
