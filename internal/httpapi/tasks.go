package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/subagentd/internal/provider"
	"github.com/antoniostano/subagentd/internal/tasks"
)

type launchTaskRequest struct {
	ParentContextID string `json:"parent_context_id"`
	Description     string `json:"description"`
	Prompt          string `json:"prompt"`
	TimeoutMS       int64  `json:"timeout_ms"`
}

type cancelTaskRequest struct {
	Reason string `json:"reason"`
}

type providerEventRequest struct {
	Type      string `json:"type"`
	ContextID string `json:"context_id"`
}

func (s *Server) handleLaunchTask(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLaunch(w, r)
	if !ok {
		return
	}

	task, err := s.orchestrator.Launch(tasks.LaunchRequest{
		ParentContextID: req.ParentContextID,
		Description:     req.Description,
		Prompt:          req.Prompt,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "task_launch_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleLaunchAndWait(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeLaunch(w, r)
	if !ok {
		return
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	task, err := s.orchestrator.LaunchAndWait(r.Context(), tasks.LaunchRequest{
		ParentContextID: req.ParentContextID,
		Description:     req.Description,
		Prompt:          req.Prompt,
	}, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Client went away; nothing left to answer.
			return
		}
		respondError(w, http.StatusBadRequest, "task_launch_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) decodeLaunch(w http.ResponseWriter, r *http.Request) (launchTaskRequest, bool) {
	var req launchTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return req, false
	}
	req.ParentContextID = strings.TrimSpace(req.ParentContextID)
	req.Description = strings.TrimSpace(req.Description)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return req, false
	}
	return req, true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	task, err := s.orchestrator.GetTask(taskID)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "task_get_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	list := s.orchestrator.ListTasks()
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": list})
}

func (s *Server) handleListTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	events, err := s.orchestrator.ListTaskEvents(taskID, limit)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "task_events_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"events":  events,
	})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimSpace(chi.URLParam(r, "id"))
	if taskID == "" {
		respondError(w, http.StatusBadRequest, "invalid_task_id", "missing task id")
		return
	}

	var req cancelTaskRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	task, cancelled, err := s.orchestrator.CancelTask(taskID, req.Reason)
	if err != nil {
		if errors.Is(err, tasks.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "task_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "task_cancel_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task":      task,
		"cancelled": cancelled,
	})
}

// handleProviderEvent ingests push notifications forwarded by the execution
// context service (or its webhook relay). Unknown event types are accepted
// and dropped, matching the listener's behavior.
func (s *Server) handleProviderEvent(w http.ResponseWriter, r *http.Request) {
	var req providerEventRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.Type = strings.TrimSpace(req.Type)
	req.ContextID = strings.TrimSpace(req.ContextID)
	if req.Type == "" || req.ContextID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "type and context_id are required")
		return
	}

	s.orchestrator.HandleEvent(provider.Event{Type: req.Type, ContextID: req.ContextID})
	respondJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleTaskSummary(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"summary": s.orchestrator.RunningSummary(),
	})
}
