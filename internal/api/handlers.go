package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Raywonder/flexpbx-mailer/internal/email"
	"github.com/Raywonder/flexpbx-mailer/internal/engine"
	"github.com/Raywonder/flexpbx-mailer/internal/models"
	"github.com/Raywonder/flexpbx-mailer/internal/render"
	"github.com/Raywonder/flexpbx-mailer/internal/transport"
)

// EnqueueRequest is the request body for POST /messages
type EnqueueRequest struct {
	Template     string            `json:"template"`
	Recipient    string            `json:"recipient"`
	Variables    map[string]string `json:"variables,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for,omitempty"`
}

// EnqueueResponse is the response for POST /messages
type EnqueueResponse struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// MessageResponse is the response for GET /messages/{id}
type MessageResponse struct {
	ID           string    `json:"id"`
	Template     string    `json:"template,omitempty"`
	Recipient    string    `json:"recipient"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	ScheduledFor time.Time `json:"scheduled_for"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TestSendRequest is the request body for POST /test-send
type TestSendRequest struct {
	Recipient string `json:"recipient"`
}

// SummaryResponse is the response for GET /queue/summary
type SummaryResponse struct {
	Counts []models.StatusCount `json:"counts"`
}

// StatisticsResponse is the response for GET /statistics
type StatisticsResponse struct {
	Days   int                 `json:"days"`
	Counts []models.DailyCount `json:"counts"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleEnqueue handles POST /api/v1/messages
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Template == "" {
		s.sendError(w, http.StatusBadRequest, "template is required")
		return
	}
	if req.Recipient == "" {
		s.sendError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	item, err := s.engine.Enqueue(r.Context(), req.Template, req.Recipient, req.Variables, req.ScheduledFor)
	if err != nil {
		s.sendEngineError(w, err, "failed to enqueue message")
		return
	}

	s.sendJSON(w, http.StatusAccepted, EnqueueResponse{
		ID:           item.ID,
		Status:       string(item.Status),
		ScheduledFor: item.ScheduledFor,
	})
}

// handleGetMessage handles GET /api/v1/messages/{id}
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.sendError(w, http.StatusBadRequest, "id is required")
		return
	}

	item, err := s.engine.Message(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get message", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get message")
		return
	}
	if item == nil {
		s.sendError(w, http.StatusNotFound, "Message not found")
		return
	}

	s.sendJSON(w, http.StatusOK, MessageResponse{
		ID:           item.ID,
		Template:     item.TemplateKey,
		Recipient:    item.Recipient,
		Status:       string(item.Status),
		Attempts:     item.Attempts,
		MaxAttempts:  item.MaxAttempts,
		ScheduledFor: item.ScheduledFor,
		LastError:    item.LastError,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	})
}

// handleTestSend handles POST /api/v1/test-send
func (s *Server) handleTestSend(w http.ResponseWriter, r *http.Request) {
	var req TestSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Recipient == "" {
		s.sendError(w, http.StatusBadRequest, "recipient is required")
		return
	}

	if err := s.engine.SubmitTest(r.Context(), req.Recipient); err != nil {
		var de *transport.DeliveryError
		if errors.As(err, &de) {
			s.sendError(w, http.StatusBadGateway, de.Message)
			return
		}
		s.sendEngineError(w, err, "failed to send test message")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

// handleRunCycle handles POST /api/v1/cycle
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.RunCycle(r.Context())
	if err != nil {
		s.sendEngineError(w, err, "delivery cycle failed")
		return
	}
	s.sendJSON(w, http.StatusOK, res)
}

// handleQueueSummary handles GET /api/v1/queue/summary
func (s *Server) handleQueueSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.engine.QueueSummary(r.Context())
	if err != nil {
		s.logger.Error("failed to get queue summary", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get queue summary")
		return
	}
	s.sendJSON(w, http.StatusOK, SummaryResponse{Counts: counts})
}

// handleRetryFailed handles POST /api/v1/queue/retry-failed
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.RetryFailed(r.Context())
	if err != nil {
		s.sendEngineError(w, err, "failed to retry failed items")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int64{"retried": n})
}

// handleStatistics handles GET /api/v1/statistics?days=N
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.sendError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	counts, err := s.engine.Statistics(r.Context(), days)
	if err != nil {
		s.logger.Error("failed to get statistics", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get statistics")
		return
	}
	s.sendJSON(w, http.StatusOK, StatisticsResponse{Days: days, Counts: counts})
}

// handleClearLogs handles DELETE /api/v1/logs?days=N
func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.sendError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	n, err := s.engine.ClearOldLogs(r.Context(), days)
	if err != nil {
		s.logger.Error("failed to clear old logs", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to clear old logs")
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).String(),
	})
}

// sendEngineError maps engine errors onto HTTP status codes.
func (s *Server) sendEngineError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, engine.ErrNoActiveConfig):
		s.sendError(w, http.StatusServiceUnavailable, "no active delivery configuration")
	case errors.Is(err, render.ErrTemplateNotFound):
		s.sendError(w, http.StatusNotFound, "template not found")
	case errors.Is(err, email.ErrInvalidAddress):
		s.sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error(fallback, "error", err)
		s.sendError(w, http.StatusInternalServerError, fallback)
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
