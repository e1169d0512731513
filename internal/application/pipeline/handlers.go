package pipeline

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-pipeline/internal/application/dispatcher"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/garyjia/expense-pipeline/internal/domain/event"
	"github.com/google/uuid"
)

// Handler names registered on the dispatcher
const (
	HandlerExpense = "pipeline.expense"
	HandlerBatch   = "pipeline.batch"
)

// RegisterHandlers subscribes the orchestrator to both intake event types
func RegisterHandlers(d dispatcher.Dispatcher, o *Orchestrator) error {
	handlers := []dispatcher.HandlerInfo{
		{
			Name:        HandlerExpense,
			EventType:   event.TypeExpenseCreated,
			Description: "Runs one expense through the pipeline",
			Handler:     o.handleExpense,
		},
		{
			Name:        HandlerBatch,
			EventType:   event.TypeExpenseBatch,
			Description: "Runs every record of a batch sequentially",
			Handler:     o.handleBatch,
		},
	}
	for _, h := range handlers {
		if err := d.Register(h); err != nil {
			return fmt.Errorf("failed to register %s: %w", h.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) handleExpense(ctx context.Context, evt *event.Event) error {
	var raw map[string]any
	if err := evt.Decode(&raw); err != nil {
		return &entity.ValidationInputError{Field: "payload", Reason: err.Error(), Err: err}
	}
	// Same required-field check as batch records; nothing is recorded for an invalid payload
	expense, err := RecordToEvent(raw)
	if err != nil {
		return err
	}
	// The envelope ID doubles as the job ID so async callers can poll the run
	jobID := evt.ID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	_, err = o.Process(ctx, *expense, JobContext{
		JobID:   jobID,
		Pattern: entity.PatternExpenseCreated,
	})
	return err
}

func (o *Orchestrator) handleBatch(ctx context.Context, evt *event.Event) error {
	var batch entity.ExpenseBatch
	if err := evt.Decode(&batch); err != nil {
		return &entity.ValidationInputError{Field: "payload", Reason: err.Error(), Err: err}
	}
	_, err := o.ProcessBatch(ctx, batch)
	return err
}
