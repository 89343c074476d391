package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gantryci/gantry/service/history"
)

// newHistoryCmd builds the 'history' command, listing recent runs from the
// sqlite history store.
func newHistoryCmd() *cobra.Command {
	var (
		limit    int
		pipeline string
		jobs     bool
	)
	cmd := &cobra.Command{
		Use:   "history [runID]",
		Short: "Show recent pipeline runs",
		Long: `Lists recent runs recorded in the history database. With a run ID and
--jobs it prints the per-job outcomes of that run instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if cfg.History.DSN == "" {
				return fmt.Errorf("history is disabled, set history.dsn in gantry.yaml")
			}
			store, err := history.Open(cfg.History.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 && jobs {
				return printJobResults(ctx, store, cmd.OutOrStdout(), args[0])
			}

			var records []*history.RunRecord
			if pipeline != "" {
				records, err = store.ByPipeline(ctx, pipeline, limit)
			} else {
				records, err = store.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tPIPELINE\tSTATE\tERRORS\tSTARTED\tDURATION")
			for _, record := range records {
				fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\n",
					record.ID, record.Name, record.State, record.ErrorCount,
					record.CreatedAt.Format(time.RFC3339),
					(time.Duration(record.DurationMs) * time.Millisecond).String())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	cmd.Flags().StringVar(&pipeline, "pipeline", "", "only runs of this pipeline")
	cmd.Flags().BoolVar(&jobs, "jobs", false, "print per-job outcomes of the given run")
	return cmd
}

func printJobResults(ctx context.Context, store *history.Service, w io.Writer, runID string) error {
	records, err := store.JobResults(ctx, runID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tATTEMPTS\tDURATION\tERROR")
	for _, record := range records {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\n",
			record.JobID, record.State, record.Attempts,
			(time.Duration(record.DurationMs) * time.Millisecond).String(), record.Error)
	}
	return tw.Flush()
}
