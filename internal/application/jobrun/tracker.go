// Package jobrun records the audit trail of each processed event.
package jobrun

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunSpec describes a run to create. An empty JobID gets a new UUID.
type RunSpec struct {
	JobID       string
	Pattern     string
	ExpenseID   string
	Fingerprint string
	Meta        entity.Meta
}

// RunDetail is a run with its stages in creation order
type RunDetail struct {
	Run    *entity.JobRun        `json:"run"`
	Stages []*entity.JobRunStage `json:"stages"`
}

// Tracker creates and finishes runs and stages. Each stage and each run
// leaves running exactly once; the repository enforces it.
type Tracker struct {
	repo   port.JobRunRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewTracker creates a tracker
func NewTracker(repo port.JobRunRepository, logger *zap.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// CreateRun inserts a run in running state
func (t *Tracker) CreateRun(ctx context.Context, spec RunSpec) (*entity.JobRun, error) {
	jobID := spec.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	meta := spec.Meta
	if meta == nil {
		meta = entity.Meta{}
	}

	run := &entity.JobRun{
		JobID:       jobID,
		Pattern:     spec.Pattern,
		ExpenseID:   spec.ExpenseID,
		Fingerprint: spec.Fingerprint,
		Status:      entity.RunStatusRunning,
		Meta:        meta,
		CreatedAt:   t.now(),
	}
	if err := t.repo.CreateRun(ctx, run); err != nil {
		return nil, &entity.PersistenceError{Op: "create run", Err: err}
	}

	t.logger.Debug("Job run created",
		zap.String("job_id", jobID),
		zap.String("pattern", spec.Pattern),
		zap.String("expense_id", spec.ExpenseID))
	return run, nil
}

// StartStage opens a stage and returns a handle to finish it
func (t *Tracker) StartStage(ctx context.Context, jobID, name string, data map[string]any) (*Stage, error) {
	stage := &entity.JobRunStage{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Stage:     name,
		Status:    entity.RunStatusRunning,
		Data:      data,
		CreatedAt: t.now(),
	}
	if err := t.repo.StartStage(ctx, stage); err != nil {
		return nil, &entity.PersistenceError{Op: "start stage " + name, Err: err}
	}
	return &Stage{tracker: t, id: stage.ID, jobID: jobID, name: name}, nil
}

// FinishStage moves a running stage to a terminal status
func (t *Tracker) FinishStage(ctx context.Context, stageID string, status entity.RunStatus, data map[string]any, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %q", entity.ErrInvalidRunStatus, status)
	}
	return t.repo.FinishStage(ctx, port.StageFinish{
		StageID: stageID,
		Status:  status,
		Data:    data,
		Error:   errMsg,
	})
}

// MergeMeta shallow-merges patch into the run's meta
func (t *Tracker) MergeMeta(ctx context.Context, jobID string, patch entity.Meta) error {
	if len(patch) == 0 {
		return nil
	}
	if err := t.repo.MergeMeta(ctx, jobID, patch); err != nil {
		return fmt.Errorf("failed to merge meta for run %s: %w", jobID, err)
	}
	return nil
}

// FinishRun moves a running run to a terminal status
func (t *Tracker) FinishRun(ctx context.Context, jobID string, status entity.RunStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %q", entity.ErrInvalidRunStatus, status)
	}
	if err := t.repo.FinishRun(ctx, jobID, status); err != nil {
		return err
	}
	t.logger.Info("Job run finished",
		zap.String("job_id", jobID),
		zap.String("status", string(status)))
	return nil
}

// Get returns a run and its stages
func (t *Tracker) Get(ctx context.Context, jobID string) (*RunDetail, error) {
	run, err := t.repo.GetRun(ctx, jobID)
	if err != nil {
		return nil, err
	}
	stages, err := t.repo.ListStages(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &RunDetail{Run: run, Stages: stages}, nil
}

// List returns recent runs, newest first
func (t *Tracker) List(ctx context.Context, filter entity.JobRunFilter) ([]*entity.JobRun, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", entity.ErrInvalidRunStatus, filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}
	return t.repo.ListRuns(ctx, filter)
}
