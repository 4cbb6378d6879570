package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Wadera/clawboard/internal/liveness"
	"github.com/Wadera/clawboard/internal/registry"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]apiError{
		"error": {Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// SessionStatus is one row of the operator session list.
type SessionStatus struct {
	Key          string         `json:"key"`
	SessionID    string         `json:"sessionId"`
	Label        string         `json:"label,omitempty"`
	Model        string         `json:"model,omitempty"`
	UpdatedAt    int64          `json:"updatedAt"`
	State        liveness.State `json:"state"`
	Task         string         `json:"task"`
	Subagent     bool           `json:"subagent"`
	InputTokens  int64          `json:"inputTokens,omitempty"`
	OutputTokens int64          `json:"outputTokens,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.Registry == nil || s.cfg.Classifier == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "session registry is not configured")
		return
	}

	sessions, err := s.cfg.Registry.List()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "REGISTRY_UNAVAILABLE", "failed to read session registry")
		return
	}

	now := time.Now()
	statuses := make([]SessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		statuses = append(statuses, SessionStatus{
			Key:          sess.Key,
			SessionID:    sess.SessionID,
			Label:        sess.Label,
			Model:        sess.Model,
			UpdatedAt:    sess.UpdatedAt,
			State:        s.cfg.Classifier.Classify(sess.Record, now),
			Task:         s.cfg.Classifier.TaskExcerpt(sess.SessionID),
			Subagent:     registry.IsSubagent(sess.Key),
			InputTokens:  sess.InputTokens,
			OutputTokens: sess.OutputTokens,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": statuses})
}

// handleSessionAbort serves POST /api/sessions/{key}/abort. Session keys
// contain colons but never slashes, so the split is unambiguous.
func (s *Server) handleSessionAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.Gateway == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "gateway client is not configured")
		return
	}

	const prefix = "/api/sessions/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	key, action, found := strings.Cut(rest, "/")
	if !found || key == "" || action != "abort" {
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "unknown session action")
		return
	}

	if !s.abortLimiter.Allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many abort requests")
		return
	}

	result := s.cfg.Gateway.AbortDetail(key)
	status := http.StatusOK
	if !result.OK {
		// The remote's message is shown verbatim; every abort is safely
		// re-invokable.
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleAbortAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}
	if s.cfg.Gateway == nil {
		writeAPIError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "gateway client is not configured")
		return
	}

	if !s.abortLimiter.Allow() {
		writeAPIError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many abort requests")
		return
	}

	results, err := s.cfg.Gateway.StopAll()
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "REGISTRY_UNAVAILABLE", "failed to read session registry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
