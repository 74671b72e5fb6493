package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nextlevelbuilder/chatbridge/internal/absorber"
)

// Callback endpoints accept per-attribute updates from the AI engine. The
// contract is deliberately forgiving: sentinel no-op values succeed without
// touching the inbox, and upstream delivery failures are absorbed rather
// than surfaced. Only a malformed request (400) or a write the caller is
// not allowed to make (403) is an error.

func (s *Server) handleCallbackStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.finishCallback(w, s.absorber.ApplyStatus(r.Context(), r.PathValue("id"), body.Status))
}

func (s *Server) handleCallbackPriority(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.finishCallback(w, s.absorber.ApplyPriority(r.Context(), r.PathValue("id"), body.Priority))
}

func (s *Server) handleCallbackLabels(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.finishCallback(w, s.absorber.ApplyLabels(r.Context(), r.PathValue("id"), body.Labels))
}

func (s *Server) handleCallbackCustomAttributes(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomAttributes map[string]any `json:"custom_attributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.finishCallback(w, s.absorber.ApplyCustomAttributes(r.Context(), r.PathValue("id"), body.CustomAttributes))
}

func (s *Server) handleCallbackTeam(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Team string `json:"team"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	s.finishCallback(w, s.absorber.ApplyTeam(r.Context(), r.PathValue("id"), body.Team))
}

func (s *Server) finishCallback(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, absorber.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, absorber.ErrPermission):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
