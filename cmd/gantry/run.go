package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/gantryci/gantry"
	"github.com/gantryci/gantry/internal/logging"
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/tracing"
)

// newRunCmd builds the 'run' command. It loads a pipeline definition, runs it
// to completion and prints per-job results plus a summary line. A failed or
// cancelled run exits non-zero.
func newRunCmd() *cobra.Command {
	var (
		sets       []string
		workspace  string
		timeout    time.Duration
		traceFile  string
		changeFile string
	)
	cmd := &cobra.Command{
		Use:   "run <pipeline.(yaml|jsonc)>",
		Short: "Run a pipeline to completion",
		Long: `Loads the pipeline definition, expands any matrix strategy and runs every
job in dependency order. Initial parameters are set with --set and are
available in expressions as ${name}.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			location, err := resolveLocation(args[0])
			if err != nil {
				return err
			}
			if traceFile != "" {
				if err := tracing.Init("gantry", version, traceFile); err != nil {
					return fmt.Errorf("could not initialise tracing: %w", err)
				}
			}

			initialState, err := parseSets(sets)
			if err != nil {
				return err
			}
			if workspace != "" {
				abs, err := filepath.Abs(workspace)
				if err != nil {
					return err
				}
				initialState["workspace"] = abs
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
			if err := rt.Start(ctx); err != nil {
				return err
			}
			defer rt.Shutdown(ctx)

			pipeline, err := rt.LoadPipeline(ctx, location)
			if err != nil {
				return err
			}
			if changeFile != "" {
				patch, err := os.ReadFile(changeFile)
				if err != nil {
					return fmt.Errorf("could not read change set: %w", err)
				}
				changed, err := changedFiles(patch)
				if err != nil {
					return err
				}
				if !pipelineAffected(pipeline, changed) {
					fmt.Fprintf(cmd.OutOrStdout(), "pipeline %s not affected by change set, skipping\n", pipeline.Name)
					return nil
				}
			}

			logging.Infof("starting pipeline %s", pipeline.Name)
			run, wait, err := rt.StartRun(ctx, pipeline, initialState)
			if err != nil {
				return err
			}
			output, err := wait(ctx, timeout)
			if err != nil {
				return err
			}
			printRunResults(ctx, rt, cmd.OutOrStdout(), output)
			if output.State != execution.StateCompleted {
				return fmt.Errorf("run %s %s", run.ID, output.State)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "initial parameter as name=value, repeatable")
	cmd.Flags().StringVar(&workspace, "workspace", "", "working directory exposed to jobs as ${workspace}")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "maximum run duration")
	cmd.Flags().StringVar(&traceFile, "trace", "", "write an OpenTelemetry trace to this file")
	cmd.Flags().StringVar(&changeFile, "changes", "", "unified diff; the run is skipped when no changed file matches the pipeline trigger paths")
	return cmd
}

// resolveLocation turns a local path into an absolute file URL; locations
// that already carry a scheme pass through untouched.
func resolveLocation(location string) (string, error) {
	if strings.Contains(location, "://") {
		return location, nil
	}
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", err
	}
	return url.Normalize(abs, file.Scheme), nil
}

// parseSets converts repeated name=value flags into the initial run state.
func parseSets(sets []string) (map[string]interface{}, error) {
	state := map[string]interface{}{}
	for _, set := range sets {
		name, value, found := strings.Cut(set, "=")
		if !found || name == "" {
			return nil, fmt.Errorf("invalid --set %q, expected name=value", set)
		}
		state[name] = value
	}
	return state, nil
}

// printRunResults renders one line per job execution followed by a summary.
func printRunResults(ctx context.Context, rt *gantry.Runtime, w io.Writer, output *execution.RunOutput) {
	if executions, err := rt.Executions(ctx, output.RunID); err == nil {
		sort.Slice(executions, func(i, j int) bool { return executions[i].JobID < executions[j].JobID })
		tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "JOB\tSTATE\tATTEMPTS\tERROR")
		for _, exec := range executions {
			fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", exec.JobID, exec.State, exec.Attempts, exec.Error)
		}
		tw.Flush()
	}
	if snapshot, err := rt.Progress(ctx, output.RunID); err == nil {
		fmt.Fprintf(w, "\n%d job(s): %d completed, %d failed, %d skipped\n",
			snapshot.TotalSteps, snapshot.CompletedSteps, snapshot.FailedSteps, snapshot.SkippedSteps)
	}
	fmt.Fprintf(w, "run %s %s in %s\n", output.RunID, output.State, output.TimeTaken.Round(time.Millisecond))
}
