package api

import (
	"fmt"
	"net/http"
	"sort"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/FairForge/guardrail/internal/orchestrator"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxTextLength = 50000

// ValidateRequest is the external request envelope.
type ValidateRequest struct {
	RequestID string         `json:"request_id,omitempty"`
	ProjectID string         `json:"project_id"`
	Text      string         `json:"text"`
	Type      string         `json:"type,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type readyResponse struct {
	Status          string   `json:"status"`
	AvailableModels []string `json:"available_models"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"service": "guardrail-server",
		"version": "0.1.0",
		"health":  "/v1/health",
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-API-Key") == "" {
		s.writeJSON(w, http.StatusUnauthorized, errorResponse{Detail: "API key required"})
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Detail: err.Error()})
		return
	}

	result, err := s.orch.Validate(r.Context(), orchestrator.Request{
		Text:      req.Text,
		Strategy:  orchestrator.AnyFlag,
		RequestID: req.RequestID,
	})
	if err != nil {
		s.logger.Error("validation failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "internal error"})
		return
	}

	if result.PartialFailure && len(result.ModelResults) == 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: "All model services unavailable"})
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (r *ValidateRequest) validate() error {
	if r.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if r.Text == "" {
		return fmt.Errorf("text is required")
	}
	if utf8.RuneCountInString(r.Text) > maxTextLength {
		return fmt.Errorf("text exceeds %d characters", maxTextLength)
	}
	switch r.Type {
	case "":
		r.Type = "input"
	case "input", "output":
	default:
		return fmt.Errorf("type must be input or output")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady reports ready while no breakers exist yet: they are created
// on first validation, and probes must not fail a fresh process.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	all := s.breakers.All()
	if len(all) == 0 {
		s.writeJSON(w, http.StatusOK, readyResponse{Status: "ready", AvailableModels: []string{}})
		return
	}

	available := []string{}
	for name, cb := range all {
		if cb.Allow() {
			available = append(available, name)
		}
	}
	sort.Strings(available)

	if len(available) == 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Detail: "No models available (all circuit breakers open)",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, readyResponse{Status: "ready", AvailableModels: available})
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.breakers.Snapshot())
}

func (s *Server) handleBreakerClose(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.breakers.Get(name).ForceClose()
	s.writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Circuit breaker for %s forced closed", name),
	})
}

func (s *Server) handleBreakerOpen(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.breakers.Get(name).ForceOpen()
	s.writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Circuit breaker for %s forced open", name),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
