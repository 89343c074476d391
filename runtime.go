package gantry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gantryci/gantry/extension"
	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/progress"
	"github.com/gantryci/gantry/runtime/execution"
	apipeline "github.com/gantryci/gantry/service/action/pipeline"
	"github.com/gantryci/gantry/service/approval"
	"github.com/gantryci/gantry/service/artifact"
	"github.com/gantryci/gantry/service/dao"
	pipelinedao "github.com/gantryci/gantry/service/dao/pipeline"
	"github.com/gantryci/gantry/service/event"
	"github.com/gantryci/gantry/service/history"
	"github.com/gantryci/gantry/service/messaging"
	"github.com/gantryci/gantry/service/processor"
	"github.com/gantryci/gantry/service/scheduler"
)

// Runtime starts, observes and controls pipeline runs.
type Runtime struct {
	pipelineService *apipeline.Service
	pipelineDAO     *pipelinedao.Service
	runDAO          dao.Service[string, execution.Run]
	executionDAO    dao.Service[string, execution.Execution]
	processor       *processor.Service
	scheduler       *scheduler.Service
	approval        approval.Service
	history         *history.Service
	artifacts       artifact.Store
	events          *event.Service
	actions         *extension.Actions
	// queue is the shared execution queue (processor inbound)
	queue messaging.Queue[execution.Execution]
}

// LoadPipeline loads a pipeline definition.
func (r *Runtime) LoadPipeline(ctx context.Context, location string) (*model.Pipeline, error) {
	return r.pipelineDAO.Load(ctx, location)
}

// DecodeYAMLPipeline decodes a pipeline definition from YAML bytes.
func (r *Runtime) DecodeYAMLPipeline(data []byte) (*model.Pipeline, error) {
	return r.pipelineDAO.DecodeYAML(data)
}

// RefreshPipeline discards any cached copy of the pipeline definition located
// at the given location. The next LoadPipeline call reloads the file via the
// configured meta service.
func (r *Runtime) RefreshPipeline(location string) error {
	if r == nil || r.pipelineDAO == nil {
		return fmt.Errorf("runtime not fully initialised, pipelineDAO missing")
	}
	r.pipelineDAO.Refresh(location)
	return nil
}

// UpsertDefinition parses the supplied YAML bytes and stores the resulting
// pipeline definition in the cache under the specified location. When data
// is nil the call falls back to RefreshPipeline, causing a lazy reload on
// next use.
func (r *Runtime) UpsertDefinition(location string, data []byte) error {
	if r == nil || r.pipelineDAO == nil {
		return fmt.Errorf("runtime not fully initialised, pipelineDAO missing")
	}
	if data == nil {
		return r.RefreshPipeline(location)
	}
	pipeline, err := r.pipelineDAO.DecodeYAML(data)
	if err != nil {
		return fmt.Errorf("failed to decode pipeline YAML: %w", err)
	}
	// Mirror the provided location in the source URL so downstream code
	// relying on it sees the expected value.
	if pipeline.Source == nil {
		pipeline.Source = &model.Source{URL: location}
	} else {
		pipeline.Source.URL = location
	}
	r.pipelineDAO.Upsert(location, pipeline)
	return nil
}

// RunFromContext returns the run carried by ctx, if any.
func (r *Runtime) RunFromContext(ctx context.Context) *execution.Run {
	if parentRun := execution.ContextValue[*execution.Run](ctx); parentRun != nil {
		return parentRun
	}
	return nil
}

// StartRun starts a new run of the pipeline and returns it together with a
// wait function that blocks until the run finishes or the timeout expires.
func (r *Runtime) StartRun(ctx context.Context, pipeline *model.Pipeline, initialState map[string]interface{}) (*execution.Run, execution.Wait, error) {
	run, err := r.processor.StartRun(ctx, pipeline, initialState)
	if err != nil {
		return nil, nil, err
	}
	wait := func(ctx context.Context, timeout time.Duration) (*execution.RunOutput, error) {
		output, err := r.pipelineService.WaitForRun(ctx, run.ID, int(timeout.Milliseconds()))
		if err != nil {
			return nil, err
		}
		return (*execution.RunOutput)(output), nil
	}
	return run, wait, nil
}

// Run loads the pipeline at location, starts it and waits for completion.
func (r *Runtime) Run(ctx context.Context, location string, initialState map[string]interface{}, timeout time.Duration) (*execution.RunOutput, error) {
	pipeline, err := r.LoadPipeline(ctx, location)
	if err != nil {
		return nil, err
	}
	_, wait, err := r.StartRun(ctx, pipeline, initialState)
	if err != nil {
		return nil, err
	}
	return wait(ctx, timeout)
}

// Start starts the runtime goroutines: the worker pool and the scheduler.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.processor.Start(ctx); err != nil {
		return err
	}
	go r.scheduler.Start(ctx)
	return nil
}

// Shutdown stops the runtime goroutines.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.processor.Shutdown()
	r.scheduler.Shutdown()
	return nil
}

// GetRun returns a run by ID.
func (r *Runtime) GetRun(ctx context.Context, id string) (*execution.Run, error) {
	return r.runDAO.Load(ctx, id)
}

// Runs lists runs matching the supplied parameters.
func (r *Runtime) Runs(ctx context.Context, parameter ...*dao.Parameter) ([]*execution.Run, error) {
	return r.runDAO.List(ctx, parameter...)
}

// Cancel requests cancellation of the run; the scheduler winds work down at
// the next safe point, leaving running steps to finish.
func (r *Runtime) Cancel(ctx context.Context, runID string) error {
	run, err := r.runDAO.Load(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.GetState() != execution.StateRunning && run.GetState() != execution.StatePending {
		return fmt.Errorf("run %s is not active", runID)
	}
	run.RequestCancel()
	return r.runDAO.Save(ctx, run)
}

// Approve records a positive decision for a pending gate.
func (r *Runtime) Approve(ctx context.Context, executionID, reason string) error {
	_, err := r.approval.Decide(ctx, executionID, true, reason)
	return err
}

// Reject records a negative decision for a pending gate; the gated job and
// its run are cancelled.
func (r *Runtime) Reject(ctx context.Context, executionID, reason string) error {
	_, err := r.approval.Decide(ctx, executionID, false, reason)
	return err
}

// Progress aggregates step counters for the run from the execution store.
func (r *Runtime) Progress(ctx context.Context, runID string) (*progress.Progress, error) {
	executions, err := r.Executions(ctx, runID)
	if err != nil {
		return nil, err
	}
	run, err := r.runDAO.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	tracker := &progress.Progress{RootRunID: runID, Pipeline: run.Name, StartedAt: run.CreatedAt}
	delta := progress.Delta{}
	for _, anExecution := range executions {
		delta.Total++
		switch anExecution.State {
		case execution.JobStateCompleted:
			delta.Completed++
		case execution.JobStateSkipped:
			delta.Skipped++
		case execution.JobStateFailed, execution.JobStateCancelled:
			delta.Failed++
		case execution.JobStateRunning:
			delta.Running++
		default:
			delta.Pending++
		}
	}
	tracker.Update(delta)
	return tracker, nil
}

// Executions returns every execution recorded for a run, including finished
// ones the scheduler has already popped off the run stack.
func (r *Runtime) Executions(ctx context.Context, runID string) ([]*execution.Execution, error) {
	all, err := r.executionDAO.List(ctx)
	if err != nil {
		return nil, err
	}
	var executions []*execution.Execution
	for _, anExecution := range all {
		if anExecution.RunID == runID {
			executions = append(executions, anExecution)
		}
	}
	return executions, nil
}

// History returns the run history store, nil when history is disabled.
func (r *Runtime) History() *history.Service {
	return r.history
}

// Artifacts returns the artifact store.
func (r *Runtime) Artifacts() artifact.Store {
	return r.artifacts
}

// Approvals returns the approval service backing manual gates.
func (r *Runtime) Approvals() approval.Service {
	return r.approval
}

// SaveExecution persists an execution without dispatching it.
func (r *Runtime) SaveExecution(ctx context.Context, anExecution *execution.Execution) error {
	return r.executionDAO.Save(ctx, anExecution)
}

// QueueExecution persists the execution and publishes it to the worker pool
// queue. The execution must reference a run known to the run store unless it
// only needs to travel through the queue.
func (r *Runtime) QueueExecution(ctx context.Context, anExecution *execution.Execution) error {
	if anExecution.ID == "" {
		anExecution.ID = uuid.New().String()
	}
	if err := r.executionDAO.Save(ctx, anExecution); err != nil {
		return err
	}
	return r.queue.Publish(ctx, anExecution)
}

// ScheduleExecution queues the execution and returns a wait closure bound to
// its ID.
func (r *Runtime) ScheduleExecution(ctx context.Context, anExecution *execution.Execution) (func(timeout time.Duration) (*execution.Execution, error), error) {
	if err := r.QueueExecution(ctx, anExecution); err != nil {
		return nil, err
	}
	executionID := anExecution.ID
	return func(timeout time.Duration) (*execution.Execution, error) {
		return r.WaitForExecution(ctx, executionID, timeout)
	}, nil
}

// WaitForExecution polls the execution store until the execution reaches a
// terminal, paused or rejected state, or the timeout expires.
func (r *Runtime) WaitForExecution(ctx context.Context, executionID string, timeout time.Duration) (*execution.Execution, error) {
	deadline := time.Now().Add(timeout)
	for {
		anExecution, err := r.executionDAO.Load(ctx, executionID)
		if err != nil {
			return nil, err
		}
		switch anExecution.State {
		case execution.JobStateCompleted,
			execution.JobStateFailed,
			execution.JobStateSkipped,
			execution.JobStateCancelled,
			execution.JobStatePaused:
			return anExecution, nil
		case execution.JobStateWaitForApproval, execution.JobStatePending:
			// A rejected gate never proceeds; finish right away instead of
			// waiting out the timeout.
			if anExecution.Approved != nil && !*anExecution.Approved {
				return anExecution, nil
			}
		}
		if time.Now().After(deadline) {
			return anExecution, fmt.Errorf("timeout waiting for execution %q", executionID)
		}
		select {
		case <-ctx.Done():
			return anExecution, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Execution returns an execution by ID.
func (r *Runtime) Execution(ctx context.Context, id string) (*execution.Execution, error) {
	return r.executionDAO.Load(ctx, id)
}
