package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/isdmx/sandboxd/session"
)

// --- JSON helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
}

// --- Handlers ---

type executeRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Code        string `json:"code"`
	Timeout     *int   `json:"timeout,omitempty"`
}

// handleExecute always answers 200 once the request is well formed; execution
// failures are reported in the result body.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.WorkspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}

	var timeout time.Duration
	if req.Timeout != nil {
		timeout = time.Duration(*req.Timeout) * time.Second
	}

	result := s.broker.Dispatch(r.Context(), req.WorkspaceID, req.Code, timeout)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspace_id")

	if err := s.broker.Destroy(r.Context(), workspaceID); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.broker.Sessions()
	if sessions == nil {
		sessions = []session.Info{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.broker.Health(r.Context()))
}
