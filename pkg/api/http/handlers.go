package http

import (
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/aescanero/dago-wrap/internal/application/orchestrator"
	"github.com/aescanero/dago-wrap/pkg/domain"
	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunRequest is the optional body of load and submit requests
type RunRequest struct {
	Seed map[string]interface{} `json:"seed"`
}

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string    `json:"run_id"`
	Wrap        string    `json:"wrap"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func abort(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// handleHealth reports the health of every registered check
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{"orchestrator": "ok"}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if s.checks[name].IsHealthy() {
			checks[name] = "ok"
			continue
		}
		checks[name] = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    state,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// handleListWraps lists the registered composites
func (s *Server) handleListWraps(c *gin.Context) {
	wraps := s.orchestrator.Wraps()
	c.JSON(http.StatusOK, gin.H{
		"wraps": wraps,
		"total": len(wraps),
	})
}

func bindRunRequest(c *gin.Context) (*RunRequest, bool) {
	var req RunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abort(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return nil, false
	}
	return &req, true
}

// handleLoadWrap runs a composite synchronously and returns its content
func (s *Server) handleLoadWrap(c *gin.Context) {
	name := c.Param("name")

	req, ok := bindRunRequest(c)
	if !ok {
		return
	}

	state, err := s.orchestrator.Run(c.Request.Context(), name, req.Seed)
	if err != nil {
		if errors.Is(err, orchestrator.ErrWrapNotFound) {
			abort(c, http.StatusNotFound, "NOT_FOUND", "Wrap not found", nil)
			return
		}
		s.logger.Warn("wrap load failed", zap.String("wrap", name), zap.Error(err))
		_ = c.Error(err)
		abort(c, http.StatusUnprocessableEntity, "LOAD_FAILED", err.Error(), state)
		return
	}

	c.JSON(http.StatusOK, state)
}

// handleSubmitWrap queues a run for the worker pool
func (s *Server) handleSubmitWrap(c *gin.Context) {
	name := c.Param("name")

	req, ok := bindRunRequest(c)
	if !ok {
		return
	}

	runID, err := s.orchestrator.Submit(c.Request.Context(), name, req.Seed)
	if err != nil {
		if errors.Is(err, orchestrator.ErrWrapNotFound) {
			abort(c, http.StatusNotFound, "NOT_FOUND", "Wrap not found", nil)
			return
		}
		s.logger.Error("failed to submit run", zap.String("wrap", name), zap.Error(err))
		abort(c, http.StatusUnprocessableEntity, "SUBMISSION_FAILED", err.Error(), nil)
		return
	}

	c.JSON(http.StatusAccepted, RunSubmitResponse{
		RunID:       runID,
		Wrap:        name,
		Status:      string(domain.RunStatusSubmitted),
		SubmittedAt: time.Now().UTC(),
	})
}

// handleListRuns lists stored runs, optionally filtered by wrap and status
func (s *Server) handleListRuns(c *gin.Context) {
	runs, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		abort(c, http.StatusInternalServerError, "STORAGE_ERROR", "Failed to list runs", err.Error())
		return
	}

	wrapFilter := c.Query("wrap")
	statusFilter := c.Query("status")

	filtered := make([]*domain.RunState, 0, len(runs))
	for _, run := range runs {
		if wrapFilter != "" && run.Wrap != wrapFilter {
			continue
		}
		if statusFilter != "" && string(run.Status) != statusFilter {
			continue
		}
		filtered = append(filtered, run)
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  filtered,
		"total": len(filtered),
	})
}

// handleGetRun returns the stored state of a run
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, ports.ErrRunNotFound) {
			abort(c, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
			return
		}
		abort(c, http.StatusInternalServerError, "STORAGE_ERROR", err.Error(), nil)
		return
	}

	c.JSON(http.StatusOK, state)
}

// handleCancelRun cancels a submitted or running run
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.CancelRun(c.Request.Context(), runID); err != nil {
		switch {
		case errors.Is(err, ports.ErrRunNotFound):
			abort(c, http.StatusNotFound, "NOT_FOUND", "Run not found", nil)
		case errors.Is(err, orchestrator.ErrRunFinished):
			abort(c, http.StatusConflict, "CANCELLATION_FAILED", err.Error(), nil)
		default:
			abort(c, http.StatusInternalServerError, "CANCELLATION_FAILED", err.Error(), nil)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       domain.RunStatusCancelled,
		"cancelled_at": time.Now().UTC(),
	})
}
