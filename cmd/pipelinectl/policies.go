package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/garyjia/expense-pipeline/internal/container"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

func policiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Show or replace the validation policies",
	}
	cmd.AddCommand(showPoliciesCmd())
	cmd.AddCommand(setPoliciesCmd())
	return cmd
}

func showPoliciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the policies in force",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd.Context(), func(app *container.Container) error {
				current, err := app.Policies().Current(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), current)
			})
		},
	}
}

func setPoliciesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <file.json|->",
		Short: "Replace the stored policies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var p entity.Policies
			if err := json.Unmarshal(raw, &p); err != nil {
				return fmt.Errorf("failed to decode policies: %w", err)
			}

			return withContainer(cmd.Context(), func(app *container.Container) error {
				if err := app.Policies().Save(cmd.Context(), &p); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}
