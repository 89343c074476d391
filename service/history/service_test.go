package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/runtime/execution"
	execmem "github.com/gantryci/gantry/service/dao/execution/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, dsn string, options ...Option) *Service {
	t.Helper()
	service, err := Open(dsn, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = service.Close() })
	return service
}

func finishedRun(id, name, state string, errs map[string]string) *execution.Run {
	pipeline := &model.Pipeline{
		Name:   name,
		Source: &model.Source{URL: "mem://localhost/pipelines/" + name + ".yaml"},
	}
	run := execution.NewRun(id, name, pipeline, nil)
	run.SetState(state)
	for key, value := range errs {
		run.Errors[key] = value
	}
	return run
}

func TestService_RecordRun(t *testing.T) {
	executions := execmem.New()
	service := newTestService(t, "file:history_record?mode=memory&cache=shared",
		WithExecutionSource(executions))
	ctx := context.Background()

	started := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	require.NoError(t, executions.Save(ctx, &execution.Execution{
		ID:          "ci/1-ci/build-1",
		RunID:       "ci/1",
		JobID:       "ci/build",
		State:       execution.JobStateCompleted,
		StartedAt:   &started,
		CompletedAt: &finished,
		Attempts:    0,
	}))
	require.NoError(t, executions.Save(ctx, &execution.Execution{
		ID:          "ci/1-ci/test[linux]-1",
		RunID:       "ci/1",
		JobID:       "ci/test[linux]",
		State:       execution.JobStateFailed,
		Error:       "exit status 1",
		Attempts:    2,
		Combination: map[string]interface{}{"os": "linux"},
	}))
	// Belongs to a different run, must not be recorded.
	require.NoError(t, executions.Save(ctx, &execution.Execution{
		ID:    "ci/2-ci/build-1",
		RunID: "ci/2",
		JobID: "ci/build",
		State: execution.JobStateCompleted,
	}))

	run := finishedRun("ci/1", "ci", execution.StateFailed,
		map[string]string{"test": "exit status 1"})
	require.NoError(t, service.RecordRun(ctx, run))

	recent, err := service.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "ci/1", recent[0].ID)
	assert.Equal(t, "ci", recent[0].Name)
	assert.Equal(t, execution.StateFailed, recent[0].State)
	assert.Equal(t, 1, recent[0].ErrorCount)
	assert.Equal(t, "mem://localhost/pipelines/ci.yaml", recent[0].Source)
	assert.GreaterOrEqual(t, recent[0].DurationMs, int64(0))

	jobs, err := service.JobResults(ctx, "ci/1")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "ci/build", jobs[0].JobID)
	assert.Equal(t, string(execution.JobStateCompleted), jobs[0].State)
	assert.Equal(t, int64(1500), jobs[0].DurationMs)
	assert.Equal(t, "ci/test[linux]", jobs[1].JobID)
	assert.Equal(t, "exit status 1", jobs[1].Error)
	assert.Equal(t, 2, jobs[1].Attempts)
	assert.JSONEq(t, `{"os":"linux"}`, jobs[1].Combination)
}

func TestService_RecordRun_replacesPreviousRows(t *testing.T) {
	executions := execmem.New()
	service := newTestService(t, "file:history_replace?mode=memory&cache=shared",
		WithExecutionSource(executions))
	ctx := context.Background()

	require.NoError(t, executions.Save(ctx, &execution.Execution{
		ID:    "ci/3-ci/build-1",
		RunID: "ci/3",
		JobID: "ci/build",
		State: execution.JobStateRunning,
	}))
	run := finishedRun("ci/3", "ci", execution.StateRunning, nil)
	require.NoError(t, service.RecordRun(ctx, run))

	require.NoError(t, executions.Save(ctx, &execution.Execution{
		ID:    "ci/3-ci/build-1",
		RunID: "ci/3",
		JobID: "ci/build",
		State: execution.JobStateCompleted,
	}))
	run.SetState(execution.StateCompleted)
	require.NoError(t, service.RecordRun(ctx, run))

	recent, err := service.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, execution.StateCompleted, recent[0].State)

	jobs, err := service.JobResults(ctx, "ci/3")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, string(execution.JobStateCompleted), jobs[0].State)
}

func TestService_ByPipeline(t *testing.T) {
	service := newTestService(t, "file:history_bypipeline?mode=memory&cache=shared")
	ctx := context.Background()

	require.NoError(t, service.RecordRun(ctx, finishedRun("ci/10", "ci", execution.StateCompleted, nil)))
	require.NoError(t, service.RecordRun(ctx, finishedRun("release/1", "release", execution.StateCompleted, nil)))

	records, err := service.ByPipeline(ctx, "ci", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ci/10", records[0].ID)

	records, err = service.ByPipeline(ctx, "nightly", 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestService_RecordRun_nilRun(t *testing.T) {
	service := newTestService(t, "file:history_nilrun?mode=memory&cache=shared")
	assert.Error(t, service.RecordRun(context.Background(), nil))
}

func TestOpen_failurePropagates(t *testing.T) {
	prev := sqlOpenFunc
	defer func() { sqlOpenFunc = prev }()

	sqlOpenFunc = func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("injected open failure")
	}
	_, err := Open("file:unreachable?mode=memory")
	assert.Error(t, err)
}
