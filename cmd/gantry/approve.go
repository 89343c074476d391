package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry"
)

// newApproveCmd builds the 'approve' command for manual gates.
func newApproveCmd() *cobra.Command {
	var (
		reject bool
		reason string
	)
	cmd := &cobra.Command{
		Use:   "approve <executionID>",
		Short: "Approve or reject a gated job execution",
		Long: `Resolves a manual gate. An approved execution is scheduled again; a
rejected one fails with the given reason.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			engine, err := engineConfig(cfg)
			if err != nil {
				return err
			}
			svc, err := gantry.NewFromConfig(engine)
			if err != nil {
				return err
			}
			rt := svc.Runtime()
			ctx = svc.NewContext(ctx)

			executionID := args[0]
			if reject {
				if err := rt.Reject(ctx, executionID, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rejected %s\n", executionID)
				return nil
			}
			if err := rt.Approve(ctx, executionID, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approved %s\n", executionID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the gate instead of approving it")
	cmd.Flags().StringVar(&reason, "reason", "", "free-form decision note")
	return cmd
}
