package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/garyjia/expense-pipeline/internal/application/pipeline"
	"github.com/garyjia/expense-pipeline/internal/container"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

// Expense payloads carry gin binding tags; the CLI checks the same rules
var payloadValidate = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}()

func processCmd() *cobra.Command {
	var jobID string

	cmd := &cobra.Command{
		Use:   "process <file.json|->",
		Short: "Run a single expense or a batch through the pipeline",
		Long: `Reads a JSON document and processes it synchronously.

An object with a "records" array is treated as a batch; anything else is a
single expense. Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			return withContainer(cmd.Context(), func(app *container.Container) error {
				if isBatch(raw) {
					return processBatch(cmd, app, raw)
				}
				return processSingle(cmd, app, raw, jobID)
			})
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "job id for a single expense (default: random UUID)")
	return cmd
}

func processSingle(cmd *cobra.Command, app *container.Container, raw []byte, jobID string) error {
	var evt entity.ExpenseEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return fmt.Errorf("failed to decode expense: %w", err)
	}
	if err := payloadValidate.Struct(evt); err != nil {
		return fmt.Errorf("invalid expense: %w", err)
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}

	outcome, err := app.Orchestrator().Process(cmd.Context(), evt, pipeline.JobContext{
		JobID:   jobID,
		Pattern: entity.PatternExpenseCreated,
	})
	if err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	return printJSON(cmd.OutOrStdout(), outcome)
}

func processBatch(cmd *cobra.Command, app *container.Container, raw []byte) error {
	var batch entity.ExpenseBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return fmt.Errorf("failed to decode batch: %w", err)
	}
	if err := payloadValidate.Struct(batch); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	outcome, err := app.Orchestrator().ProcessBatch(cmd.Context(), batch)
	if outcome != nil {
		if printErr := printJSON(cmd.OutOrStdout(), outcome); printErr != nil && err == nil {
			err = printErr
		}
	}
	return err
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return raw, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return raw, nil
}

func isBatch(raw []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &fields); err != nil {
		return false
	}
	_, ok := fields["records"]
	return ok
}
