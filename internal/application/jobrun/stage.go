package jobrun

import (
	"context"
	"errors"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

// Stage is an open stage. The first finishing call wins; later calls are no-ops.
type Stage struct {
	tracker  *Tracker
	id       string
	jobID    string
	name     string
	finished bool
}

// ID returns the stage row id
func (s *Stage) ID() string { return s.id }

// Name returns the stage name
func (s *Stage) Name() string { return s.name }

// Open reports whether the stage still needs finishing
func (s *Stage) Open() bool { return !s.finished }

// Succeed finishes the stage as success
func (s *Stage) Succeed(ctx context.Context, data map[string]any) error {
	return s.finish(ctx, entity.RunStatusSuccess, data, "")
}

// Skip finishes the stage as skipped
func (s *Stage) Skip(ctx context.Context, data map[string]any) error {
	return s.finish(ctx, entity.RunStatusSkipped, data, "")
}

// Fail finishes the stage as failed with cause's message
func (s *Stage) Fail(ctx context.Context, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(ctx, entity.RunStatusFailed, nil, msg)
}

func (s *Stage) finish(ctx context.Context, status entity.RunStatus, data map[string]any, errMsg string) error {
	if s.finished {
		return nil
	}
	// A failed write keeps the stage open so a later Fail can still close it
	err := s.tracker.FinishStage(ctx, s.id, status, data, errMsg)
	if err != nil && !errors.Is(err, entity.ErrStageAlreadyFinished) {
		return err
	}
	s.finished = true
	return nil
}
