package pipeline

import (
	"context"
	"testing"

	"github.com/gantryci/gantry/runtime/execution"
	runmem "github.com/gantryci/gantry/service/dao/run/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWaitForRun verifies that WaitForRun returns as soon as the run reaches
// a terminal state and never blocks for the whole timeout.
func TestWaitForRun(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name  string
		state string
	}{
		{name: "completed", state: execution.StateCompleted},
		{name: "failed", state: execution.StateFailed},
		{name: "cancelled", state: execution.StateCancelled},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			run := execution.NewRun("demo/"+tc.name, "demo", nil, map[string]interface{}{"k": "v"})
			run.SetState(tc.state)

			runDAO := runmem.New()
			require.NoError(t, runDAO.Save(ctx, run))

			svc := New(nil, nil, runDAO)
			out, err := svc.WaitForRun(ctx, run.ID, 1_000)

			require.NoError(t, err)
			assert.EqualValues(t, tc.state, out.State)
			assert.False(t, out.Timeout)
			assert.Equal(t, "v", out.Output["k"])
		})
	}
}

func TestWait_timeout(t *testing.T) {
	ctx := context.Background()
	run := execution.NewRun("demo/1", "demo", nil, nil)
	run.SetState(execution.StateRunning)

	runDAO := runmem.New()
	require.NoError(t, runDAO.Save(ctx, run))

	svc := New(nil, nil, runDAO)
	input := &WaitInput{RunID: run.ID, TimeoutInMs: 50, PollFrequencyInMs: 10}
	output := &WaitOutput{}
	require.NoError(t, svc.wait(ctx, input, output))
	assert.True(t, output.Timeout)
	assert.Equal(t, execution.StateRunning, output.State)
}
