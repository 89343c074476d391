package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry"
)

// newValidateCmd builds the 'validate' command. It decodes the pipeline
// definition and reports structural problems without running anything.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <pipeline.(yaml|jsonc)>",
		Short: "Check a pipeline definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			location, err := resolveLocation(args[0])
			if err != nil {
				return err
			}
			svc := gantry.New()
			pipeline, err := svc.Runtime().LoadPipeline(ctx, location)
			if err != nil {
				return err
			}
			issues := pipeline.Validate()
			if len(issues) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s is valid\n", pipeline.Name)
				return nil
			}
			for _, issue := range issues {
				fmt.Fprintf(cmd.OutOrStdout(), "- %v\n", issue)
			}
			return fmt.Errorf("pipeline %s has %d problem(s)", pipeline.Name, len(issues))
		},
	}
}
