package execution

import (
	"errors"
	"testing"

	"github.com/gantryci/gantry/model/graph"
)

func TestNewExecution(t *testing.T) {
	parent := &graph.Job{ID: "jobs", Async: true}
	job := &graph.Job{
		ID:    "jobs/test",
		Name:  "test",
		Needs: []string{"jobs/build"},
		Steps: []*graph.Job{
			{ID: "jobs/test/checkout", Name: "checkout"},
			{ID: "jobs/test/pytest", Name: "pytest"},
		},
	}

	exec := NewExecution("run-1", parent, job)

	if exec.State != JobStatePending {
		t.Fatalf("expected pending state, got %v", exec.State)
	}
	if exec.RunID != "run-1" || exec.JobID != "jobs/test" {
		t.Fatalf("unexpected identifiers: %+v", exec)
	}
	if exec.ParentJobID != "jobs" {
		t.Fatalf("expected parent job id, got %v", exec.ParentJobID)
	}
	// Async parent puts the execution into the parent's group.
	if exec.GroupID != "jobs" {
		t.Fatalf("expected group id from async parent, got %v", exec.GroupID)
	}

	for _, id := range []string{"jobs/build", "jobs/test/checkout", "jobs/test/pytest"} {
		if state, ok := exec.Dependencies[id]; !ok || state != JobStatePending {
			t.Fatalf("expected pending dependency for %v, got %v (present=%v)", id, state, ok)
		}
	}
}

func TestExecutionLifecycle(t *testing.T) {
	job := &graph.Job{ID: "jobs/lint", Name: "lint"}
	exec := NewExecution("run-2", nil, job)

	exec.Start()
	if exec.State != JobStateRunning || exec.StartedAt == nil {
		t.Fatalf("start not recorded: %+v", exec)
	}

	exec.Fail(errors.New("flake8 exited with status 1"))
	if exec.State != JobStateFailed || exec.CompletedAt == nil {
		t.Fatalf("failure not recorded: %+v", exec)
	}
	if exec.Error != "flake8 exited with status 1" {
		t.Fatalf("unexpected error text: %v", exec.Error)
	}
}

func TestExecutionCancel(t *testing.T) {
	job := &graph.Job{ID: "jobs/test[windows/3.9]"}
	exec := NewExecution("run-3", nil, job)
	exec.Cancel("fail-fast: leg jobs/test[linux/3.9] failed")

	if exec.State != JobStateCancelled {
		t.Fatalf("expected cancelled state, got %v", exec.State)
	}
	if exec.CompletedAt == nil || exec.Error == "" {
		t.Fatalf("cancellation details missing: %+v", exec)
	}
}

func TestExecutionMerge(t *testing.T) {
	base := &Execution{ID: "e1", State: JobStateRunning, Dependencies: map[string]JobState{}}
	update := &Execution{
		ID:      "e1",
		State:   JobStateCompleted,
		Output:  map[string]interface{}{"status": 0},
		GotoJob: "jobs/report",
		Dependencies: map[string]JobState{
			"jobs/test/pytest": JobStateCompleted,
		},
		Meta: map[string]interface{}{"attempt": 2},
	}

	base.Merge(update)

	if base.State != JobStateCompleted {
		t.Fatalf("state not merged: %v", base.State)
	}
	if base.GotoJob != "jobs/report" {
		t.Fatalf("goto not merged: %v", base.GotoJob)
	}
	if base.Dependencies["jobs/test/pytest"] != JobStateCompleted {
		t.Fatalf("dependencies not merged: %+v", base.Dependencies)
	}
	if base.Meta["attempt"] != 2 {
		t.Fatalf("meta not merged: %+v", base.Meta)
	}
}

func TestExecutionClone(t *testing.T) {
	exec := &Execution{
		ID:           "e2",
		State:        JobStateRunning,
		Combination:  map[string]interface{}{"os": "ubuntu-latest", "python": "3.9"},
		Dependencies: map[string]JobState{"jobs/build": JobStateCompleted},
		Needs:        []string{"jobs/build"},
	}

	clone := exec.Clone()
	clone.Combination["python"] = "3.11"
	clone.Dependencies["jobs/build"] = JobStateFailed
	clone.Needs[0] = "jobs/other"

	if exec.Combination["python"] != "3.9" {
		t.Fatalf("clone shares combination map")
	}
	if exec.Dependencies["jobs/build"] != JobStateCompleted {
		t.Fatalf("clone shares dependencies map")
	}
	if exec.Needs[0] != "jobs/build" {
		t.Fatalf("clone shares needs slice")
	}
}

func TestJobStateHelpers(t *testing.T) {
	for _, state := range []JobState{JobStateCompleted, JobStateFailed, JobStateSkipped, JobStateCancelled} {
		if !state.IsTerminal() {
			t.Fatalf("expected %v to be terminal", state)
		}
	}
	for _, state := range []JobState{JobStatePending, JobStateRunning, JobStateWaitForNeeds, JobStateWaitForApproval} {
		if state.IsTerminal() {
			t.Fatalf("expected %v to be non-terminal", state)
		}
	}

	if !JobStateSkipped.Succeeded() {
		t.Fatal("skipped must satisfy a needs edge")
	}
	if JobStateFailed.Succeeded() {
		t.Fatal("failed must not satisfy a needs edge")
	}
	if !JobStateWaitForApproval.IsWaitForApproval() {
		t.Fatal("approval helper broken")
	}
}
