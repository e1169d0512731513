package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/garyjia/expense-pipeline/internal/application/jobrun"
	"github.com/garyjia/expense-pipeline/internal/application/pipeline"
	"github.com/garyjia/expense-pipeline/internal/application/policy"
	"github.com/garyjia/expense-pipeline/internal/application/validation"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/garyjia/expense-pipeline/internal/domain/event"
)

// Version is reported by the health check
const Version = "1.0.0"

// ExpenseProcessor runs expenses through the pipeline synchronously
type ExpenseProcessor interface {
	Process(ctx context.Context, evt entity.ExpenseEvent, jc pipeline.JobContext) (*pipeline.Outcome, error)
	ProcessBatch(ctx context.Context, batch entity.ExpenseBatch) (*pipeline.BatchOutcome, error)
}

// EventSubmitter queues intake events for asynchronous processing
type EventSubmitter interface {
	Submit(evt *event.Event) error
}

// ExpenseValidator evaluates an expense without running the pipeline
type ExpenseValidator interface {
	Validate(ctx context.Context, req validation.Request) (*validation.Outcome, error)
}

// PolicyStore reads and replaces the policies in force
type PolicyStore interface {
	Current(ctx context.Context) (*entity.Policies, error)
	Save(ctx context.Context, policies *entity.Policies) error
}

// RunReader exposes job runs for inspection
type RunReader interface {
	Get(ctx context.Context, jobID string) (*jobrun.RunDetail, error)
	List(ctx context.Context, filter entity.JobRunFilter) ([]*entity.JobRun, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	processor ExpenseProcessor
	submitter EventSubmitter
	validator ExpenseValidator
	policies  PolicyStore
	runs      RunReader
	logger    Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	processor ExpenseProcessor,
	submitter EventSubmitter,
	validator ExpenseValidator,
	policies PolicyStore,
	runs RunReader,
	logger Logger,
) *Handlers {
	return &Handlers{
		processor: processor,
		submitter: submitter,
		validator: validator,
		policies:  policies,
		runs:      runs,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// AcceptedResponse is returned for queued events
type AcceptedResponse struct {
	EventID string     `json:"event_id"`
	Type    event.Type `json:"type"`
	// JobID is set for single expenses; batch records get their own job ids
	JobID string `json:"job_id,omitempty"`
}

// ListJobsRequest represents query parameters for listing runs
type ListJobsRequest struct {
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Status string `form:"status" binding:"omitempty,oneof=running success failed skipped"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
		},
	})
}

// ProcessExpense handles POST /api/expenses
func (h *Handlers) ProcessExpense(c *gin.Context) {
	var req entity.ExpenseEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid expense", err)
		return
	}

	outcome, err := h.processor.Process(c.Request.Context(), req, pipeline.JobContext{
		JobID:   uuid.NewString(),
		Pattern: entity.PatternExpenseCreated,
	})
	if err != nil {
		h.fail(c, "expense processing failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: outcome})
}

// ProcessBatch handles POST /api/expenses/batch
func (h *Handlers) ProcessBatch(c *gin.Context) {
	var req entity.ExpenseBatch
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid batch", err)
		return
	}

	outcome, err := h.processor.ProcessBatch(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "batch processing failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: outcome})
}

// SubmitEvent handles POST /api/events
func (h *Handlers) SubmitEvent(c *gin.Context) {
	var evt event.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		h.badRequest(c, "invalid event", err)
		return
	}
	if !evt.Type.IsValid() {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Error:   "unsupported event type: " + evt.Type.String(),
		})
		return
	}
	evt.Normalize()

	if err := h.submitter.Submit(&evt); err != nil {
		h.fail(c, "event rejected", err)
		return
	}

	accepted := AcceptedResponse{EventID: evt.ID, Type: evt.Type}
	if evt.Type == event.TypeExpenseCreated {
		accepted.JobID = evt.ID
	}
	c.JSON(http.StatusAccepted, Response{Success: true, Data: accepted})
}

// ValidateExpense handles POST /api/validations
func (h *Handlers) ValidateExpense(c *gin.Context) {
	var req validation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid validation request", err)
		return
	}
	if req.Policies != nil {
		if err := policy.Validate(req.Policies); err != nil {
			h.fail(c, "invalid policies", err)
			return
		}
	}

	outcome, err := h.validator.Validate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "validation failed", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: outcome.Response})
}

// GetPolicies handles GET /api/policies
func (h *Handlers) GetPolicies(c *gin.Context) {
	current, err := h.policies.Current(c.Request.Context())
	if err != nil {
		h.fail(c, "failed to load policies", err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: current})
}

// PutPolicies handles PUT /api/policies
func (h *Handlers) PutPolicies(c *gin.Context) {
	var req entity.Policies
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid policies", err)
		return
	}

	if err := h.policies.Save(c.Request.Context(), &req); err != nil {
		h.fail(c, "failed to save policies", err)
		return
	}

	h.logger.Info("Policies replaced", "base_currency", req.BaseCurrency)
	c.JSON(http.StatusOK, Response{Success: true, Data: req})
}

// ListJobs handles GET /api/jobs
func (h *Handlers) ListJobs(c *gin.Context) {
	var req ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, "invalid query parameters", err)
		return
	}

	runs, err := h.runs.List(c.Request.Context(), entity.JobRunFilter{
		Status: entity.RunStatus(req.Status),
		Limit:  req.Limit,
	})
	if err != nil {
		h.fail(c, "failed to list jobs", err)
		return
	}
	if runs == nil {
		runs = []*entity.JobRun{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: runs})
}

// GetJob handles GET /api/jobs/:id
func (h *Handlers) GetJob(c *gin.Context) {
	jobID := c.Param("id")

	detail, err := h.runs.Get(c.Request.Context(), jobID)
	if err != nil {
		h.fail(c, "failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: detail})
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg + ": " + err.Error(),
	})
}

func (h *Handlers) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		h.logger.Error(msg, "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, Response{
		Success: false,
		Error:   msg + ": " + err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case entity.IsInputError(err), errors.Is(err, entity.ErrNoPolicies):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrInvalidRunStatus):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrQueueFull), errors.Is(err, entity.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
