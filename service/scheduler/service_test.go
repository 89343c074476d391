package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/runtime/execution"
	execmem "github.com/gantryci/gantry/service/dao/execution/memory"
	runmem "github.com/gantryci/gantry/service/dao/run/memory"
	qmem "github.com/gantryci/gantry/service/messaging/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	service      *Service
	runDAO       *runmem.Service
	executionDAO *execmem.Service
	queue        *qmem.Queue[execution.Execution]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	runDAO := runmem.New()
	executionDAO := execmem.New()
	queue := qmem.NewQueue[execution.Execution](qmem.DefaultConfig())
	return &harness{
		service:      New(runDAO, executionDAO, queue, DefaultConfig()),
		runDAO:       runDAO,
		executionDAO: executionDAO,
		queue:        queue,
	}
}

func (h *harness) startRun(t *testing.T, pipeline *model.Pipeline) *execution.Run {
	t.Helper()
	ctx := context.Background()
	run := execution.NewRun(pipeline.Name+"/1", pipeline.Name, pipeline, nil)
	run.Push(execution.NewExecution(run.ID, nil, pipeline.Jobs))
	run.SetState(execution.StateRunning)
	require.NoError(t, h.runDAO.Save(ctx, run))
	return run
}

func (h *harness) pass(t *testing.T, run *execution.Run) {
	t.Helper()
	require.NoError(t, h.service.scheduleNextJobs(context.Background(), run))
}

// takeScheduled pops the next dispatched execution off the processor queue.
func (h *harness) takeScheduled(t *testing.T) *execution.Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	message, err := h.queue.Consume(ctx)
	require.NoError(t, err)
	require.NoError(t, message.Ack())
	return message.T()
}

// finish plays the processor's part: marks the dequeued execution terminal
// and stores it so the next pass picks the outcome up.
func (h *harness) finish(t *testing.T, anExecution *execution.Execution, output interface{}, failure error) {
	t.Helper()
	anExecution.Start()
	if failure != nil {
		anExecution.Fail(failure)
	} else {
		anExecution.Output = output
		anExecution.Complete()
	}
	require.NoError(t, h.executionDAO.Save(context.Background(), anExecution))
}

func TestService_sequentialSteps(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	build := pipeline.NewJob("build")
	compile := build.AddStep("compile").WithAction("printer", "print", nil)
	compile.WithPost("artifact", "${msg}")
	build.AddStep("unit").WithAction("printer", "print", nil)
	run := h.startRun(t, pipeline)

	h.pass(t, run) // root descends into build
	h.pass(t, run) // build schedules its first step
	h.pass(t, run) // compile dispatched

	first := h.takeScheduled(t)
	assert.Equal(t, "ci/build/compile", first.JobID)
	h.finish(t, first, map[string]interface{}{"msg": "ok"}, nil)

	h.pass(t, run) // compile concludes, unit scheduled
	h.pass(t, run)

	second := h.takeScheduled(t)
	assert.Equal(t, "ci/build/unit", second.JobID)
	h.finish(t, second, map[string]interface{}{"msg": "done"}, nil)

	h.pass(t, run) // unit and build conclude
	h.pass(t, run)
	h.pass(t, run) // empty stack finalizes

	assert.Equal(t, execution.StateCompleted, run.GetState())
	promoted, ok := run.Session.Get("artifact")
	require.True(t, ok)
	assert.Equal(t, "ok", promoted)
	output, ok := run.Session.Get("compile")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"msg": "ok"}, output)
}

func TestService_needsOrdering(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	pipeline.NewJob("build").WithAction("printer", "print", nil)
	pipeline.NewJob("deploy").WithAction("printer", "print", nil).WithNeeds("build")
	run := h.startRun(t, pipeline)

	h.pass(t, run) // root pushes both jobs
	h.pass(t, run) // deploy waits on build; build dispatched

	first := h.takeScheduled(t)
	assert.Equal(t, "ci/build", first.JobID)

	deployExecution := run.LookupExecution("ci/deploy")
	require.NotNil(t, deployExecution)
	assert.Equal(t, execution.JobStateWaitForNeeds, deployExecution.State)

	h.finish(t, first, nil, nil)
	h.pass(t, run) // build concludes, deploy unblocked
	h.pass(t, run)

	second := h.takeScheduled(t)
	assert.Equal(t, "ci/deploy", second.JobID)
	h.finish(t, second, nil, nil)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)
	assert.Equal(t, execution.StateCompleted, run.GetState())
}

func TestService_failureSkipsFollowingSteps(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	build := pipeline.NewJob("build")
	build.AddStep("lint").WithAction("printer", "print", nil)
	build.AddStep("unit").WithAction("printer", "print", nil)
	build.AddStep("report").WithAction("printer", "print", nil).WithIf("always()")
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	lint := h.takeScheduled(t)
	h.finish(t, lint, nil, errors.New("lint failed"))

	h.pass(t, run) // lint fails, unit scheduled then self-skips
	h.pass(t, run)
	h.pass(t, run)

	report := h.takeScheduled(t)
	assert.Equal(t, "ci/build/report", report.JobID)
	h.finish(t, report, nil, nil)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateFailed, run.GetState())
	assert.Equal(t, "lint failed", run.Errors["lint"])

	stored, err := h.executionDAO.List(context.Background())
	require.NoError(t, err)
	states := map[string]execution.JobState{}
	for _, anExecution := range stored {
		states[anExecution.JobID] = anExecution.State
	}
	assert.Equal(t, execution.JobStateFailed, states["ci/build/lint"])
	assert.Equal(t, execution.JobStateSkipped, states["ci/build/unit"])
	assert.Equal(t, execution.JobStateCompleted, states["ci/build/report"])
}

func TestService_matrixExpansion(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	pipeline.NewJob("test").
		WithAction("printer", "print", nil).
		WithStrategy(&graph.Strategy{
			Matrix: &graph.Matrix{
				Axes: map[string][]interface{}{"os": {"linux", "darwin"}},
			},
		})
	run := h.startRun(t, pipeline)

	h.pass(t, run) // root descends
	h.pass(t, run) // driver expands into legs
	h.pass(t, run) // legs dispatched

	seen := map[string]interface{}{}
	for i := 0; i < 2; i++ {
		leg := h.takeScheduled(t)
		require.NotNil(t, leg.Combination)
		seen[leg.JobID] = leg.Combination["os"]
		h.finish(t, leg, map[string]interface{}{"os": leg.Combination["os"]}, nil)
	}
	assert.Equal(t, "linux", seen["ci/test[linux]"])
	assert.Equal(t, "darwin", seen["ci/test[darwin]"])

	h.pass(t, run) // legs conclude, group rendezvous
	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateCompleted, run.GetState())
	aggregated, ok := run.Session.Get("test")
	require.True(t, ok)
	legs, ok := aggregated.([]interface{})
	require.True(t, ok)
	assert.Len(t, legs, 2)
}

func TestService_matrixFailFast(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	pipeline.NewJob("test").
		WithAction("printer", "print", nil).
		WithStrategy(&graph.Strategy{
			MaxParallel: 1,
			Matrix: &graph.Matrix{
				Axes: map[string][]interface{}{"os": {"linux", "darwin", "windows"}},
			},
		})
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run) // maxParallel 1 admits a single leg

	leg := h.takeScheduled(t)
	h.finish(t, leg, nil, errors.New("segfault"))

	h.pass(t, run) // failure cancels the remaining legs
	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateFailed, run.GetState())

	stored, err := h.executionDAO.List(context.Background())
	require.NoError(t, err)
	var failed, cancelled int
	for _, anExecution := range stored {
		if !strings.HasPrefix(anExecution.JobID, "ci/test[") {
			continue
		}
		switch anExecution.State {
		case execution.JobStateFailed:
			failed++
		case execution.JobStateCancelled:
			cancelled++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 2, cancelled)
}

func TestService_gateWaitsForApproval(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	release := pipeline.NewJob("release").WithGate(true)
	release.AddStep("publish").WithAction("printer", "print", nil)
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)

	gateExecution := run.LookupExecution("ci/release")
	require.NotNil(t, gateExecution)
	assert.Equal(t, execution.JobStateWaitForApproval, gateExecution.State)

	// Repeated passes keep the gate parked.
	h.pass(t, run)
	assert.Equal(t, execution.JobStateWaitForApproval, gateExecution.State)

	approved := true
	gateExecution.Approved = &approved
	gateExecution.State = execution.JobStatePending
	require.NoError(t, h.executionDAO.Save(context.Background(), gateExecution))

	h.pass(t, run)
	h.pass(t, run)

	publish := h.takeScheduled(t)
	assert.Equal(t, "ci/release/publish", publish.JobID)
	h.finish(t, publish, nil, nil)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)
	assert.Equal(t, execution.StateCompleted, run.GetState())
}

func TestService_gateRejectionCancels(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	release := pipeline.NewJob("release").WithGate(true)
	release.AddStep("publish").WithAction("printer", "print", nil)
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)

	gateExecution := run.LookupExecution("ci/release")
	require.NotNil(t, gateExecution)
	rejected := false
	gateExecution.Approved = &rejected
	gateExecution.ApprovalReason = "not today"
	gateExecution.State = execution.JobStatePending

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateCancelled, run.GetState())
}

func TestService_cancelRequest(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	build := pipeline.NewJob("build")
	build.AddStep("compile").WithAction("printer", "print", nil)
	build.AddStep("unit").WithAction("printer", "print", nil)
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run) // compile dispatched

	run.RequestCancel()
	h.pass(t, run) // scheduled work cancelled, no new steps started
	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateCancelled, run.GetState())
}

func TestService_emptyMatrixCompletes(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	pipeline.NewJob("test").
		WithAction("printer", "print", nil).
		WithStrategy(&graph.Strategy{
			Matrix: &graph.Matrix{
				Axes:    map[string][]interface{}{"os": {"linux"}},
				Exclude: []map[string]interface{}{{"os": "linux"}},
			},
		})
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateCompleted, run.GetState())
}

func TestService_gotoUnknownTargetEndsChain(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	pipeline.NewJob("build").WithAction("printer", "print", nil).WithGoto("", "end")
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)

	buildExecution := h.takeScheduled(t)
	h.finish(t, buildExecution, nil, nil)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateCompleted, run.GetState())
}

func TestService_continueOnErrorKeepsRunGreen(t *testing.T) {
	h := newHarness(t)
	pipeline := model.NewPipeline("ci")
	build := pipeline.NewJob("build")
	lint := build.AddStep("lint").WithAction("printer", "print", nil)
	lint.ContinueOnError = true
	build.AddStep("unit").WithAction("printer", "print", nil)
	run := h.startRun(t, pipeline)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	lintExecution := h.takeScheduled(t)
	h.finish(t, lintExecution, nil, errors.New("style nit"))

	h.pass(t, run) // lint failure tolerated, unit proceeds
	h.pass(t, run)

	unitExecution := h.takeScheduled(t)
	assert.Equal(t, "ci/build/unit", unitExecution.JobID)
	h.finish(t, unitExecution, nil, nil)

	h.pass(t, run)
	h.pass(t, run)
	h.pass(t, run)

	assert.Equal(t, execution.StateCompleted, run.GetState())
	assert.Empty(t, run.Errors)
}
