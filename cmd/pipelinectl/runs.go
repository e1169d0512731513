package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/expense-pipeline/internal/container"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

func runsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent job runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := entity.JobRunFilter{Status: entity.RunStatus(status), Limit: limit}
			if status != "" && !filter.Status.IsValid() {
				return fmt.Errorf("%w: %s", entity.ErrInvalidRunStatus, status)
			}

			return withContainer(cmd.Context(), func(app *container.Container) error {
				runs, err := app.Tracker().List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if runs == nil {
					runs = []*entity.JobRun{}
				}
				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only runs with this status (running, success, failed, skipped)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of runs")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job-id>",
		Short: "Show a job run with its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(app *container.Container) error {
				detail, err := app.Tracker().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), detail)
			})
		},
	}
}
