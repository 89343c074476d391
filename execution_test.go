package gantry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/runtime/execution"
)

// TestRuntime_QueueExecution verifies that QueueExecution publishes an
// execution to the processor queue, and that it can be consumed directly.
func TestRuntime_QueueExecution(t *testing.T) {
	svc := New()
	ctx := svc.NewContext(context.Background())
	rt := svc.Runtime()

	job := &graph.Job{ID: "dummy"}
	anExecution := execution.NewExecution("run1", nil, job)
	require.NoError(t, rt.QueueExecution(ctx, anExecution))

	// The message should now be available on the shared queue.
	msg, err := svc.queue.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, anExecution.ID, msg.T().ID)
}

// TestRuntime_ScheduleExecution verifies the returned wait closure resolves
// once the execution reaches a terminal state.
func TestRuntime_ScheduleExecution(t *testing.T) {
	svc := New()
	ctx := svc.NewContext(context.Background())
	rt := svc.Runtime()

	job := &graph.Job{ID: "dummy"}
	anExecution := execution.NewExecution("run1", nil, job)
	wait, err := rt.ScheduleExecution(ctx, anExecution)
	require.NoError(t, err)

	// Resolve the execution out of band, then the wait must return it.
	anExecution.State = execution.JobStateCompleted
	require.NoError(t, rt.SaveExecution(ctx, anExecution))

	out, err := wait(time.Second)
	require.NoError(t, err)
	require.Equal(t, execution.JobStateCompleted, out.State)
}

// TestRuntime_WaitForExecutionStates verifies WaitForExecution returns once
// the execution enters a terminal or paused/approval state.
func TestRuntime_WaitForExecutionStates(t *testing.T) {
	svc := New()
	ctx := svc.NewContext(context.Background())
	rt := svc.Runtime()

	rejected := false

	testCases := []struct {
		name     string
		state    execution.JobState
		approved *bool
	}{
		{name: "completed", state: execution.JobStateCompleted},
		{name: "failed", state: execution.JobStateFailed},
		{name: "skipped", state: execution.JobStateSkipped},
		{name: "cancelled", state: execution.JobStateCancelled},
		{name: "paused", state: execution.JobStatePaused},
		{name: "rejectedGate", state: execution.JobStateWaitForApproval, approved: &rejected},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			anExecution := &execution.Execution{ID: "e-" + tc.name, State: tc.state, Approved: tc.approved}
			require.NoError(t, rt.SaveExecution(ctx, anExecution))

			out, err := rt.WaitForExecution(ctx, anExecution.ID, 100*time.Millisecond)
			require.NoError(t, err)
			require.Equal(t, anExecution.ID, out.ID)
			require.Equal(t, tc.state, out.State)
		})
	}
}

// TestRuntime_WaitForExecution_timeout verifies that a non-terminal execution
// times out rather than blocking forever.
func TestRuntime_WaitForExecution_timeout(t *testing.T) {
	svc := New()
	ctx := svc.NewContext(context.Background())
	rt := svc.Runtime()

	anExecution := &execution.Execution{ID: "e-running", State: execution.JobStateRunning}
	require.NoError(t, rt.SaveExecution(ctx, anExecution))

	_, err := rt.WaitForExecution(ctx, anExecution.ID, 50*time.Millisecond)
	require.Error(t, err)
}
