package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// handleLogin exchanges the admin password for the API token. This is the
// bootstrap path for new clients: everything else on /api/v1 requires the
// Bearer token this endpoint hands out.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.auth.CheckPassword(payload.Password) {
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	token, err := s.auth.GetToken()
	if err != nil || token == "" {
		writeError(w, http.StatusInternalServerError, "token unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleRotateToken replaces the API token with a fresh one and returns it.
// Every other client is cut off until it logs in again.
func (s *Server) handleRotateToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.auth.RegenerateToken()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.CurrentPassword) == "" || strings.TrimSpace(payload.NewPassword) == "" {
		writeError(w, http.StatusBadRequest, "currentPassword and newPassword are required")
		return
	}
	if !s.auth.CheckPassword(payload.CurrentPassword) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}
	if err := s.auth.SetPassword(payload.NewPassword); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
