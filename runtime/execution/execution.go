package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/clock"
	"github.com/gantryci/gantry/internal/idgen"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/service/event"
)

// Execution represents a single job execution. Matrix jobs produce one
// execution per combination; Combination then carries the leg's axis values.
type Execution struct {
	ID             string                 `json:"id"`
	RunID          string                 `json:"runId"`
	ParentJobID    string                 `json:"parentJobId,omitempty"`
	GroupID        string                 `json:"groupId,omitempty"`
	JobID          string                 `json:"jobId"`
	State          JobState               `json:"state"`
	Combination    map[string]interface{} `json:"combination,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	Input          interface{}            `json:"input,omitempty"`
	Output         interface{}            `json:"output,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Attempts       int                    `json:"attempts,omitempty"`
	ScheduledAt    time.Time              `json:"scheduledAt"`
	StartedAt      *time.Time             `json:"startedAt,omitempty"`
	PausedAt       *time.Time             `json:"pausedAt,omitempty"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	GotoJob        string                 `json:"gotoJob,omitempty"`
	Meta           map[string]interface{} `json:"meta,omitempty"`
	RunAfter       *time.Time             `json:"runAfter,omitempty"`
	Needs          []string               `json:"needs,omitempty"`
	Dependencies   map[string]JobState    `json:"dependencies,omitempty"`
	mux            sync.RWMutex           `json:"-"`
	Approved       *bool                  `json:"approved,omitempty"`
	ApprovalReason string                 `json:"approvalReason,omitempty"`
}

func (e *Execution) Context(eventType string, job *graph.Job) *event.Context {
	ret := &event.Context{
		EventType: eventType,
		RunID:     e.RunID,
		JobID:     e.JobID,
	}
	if action := job.Action; action != nil {
		ret.Service = action.Service
		ret.Method = action.Method
	}
	return ret
}

// NewExecution creates a new execution for a job.
func NewExecution(runID string, parent, job *graph.Job) *Execution {
	ret := &Execution{
		ID:           generateExecutionID(runID, job.ID),
		RunID:        runID,
		JobID:        job.ID,
		State:        JobStatePending,
		ScheduledAt:  clock.Now(),
		Needs:        job.Needs,
		Dependencies: make(map[string]JobState),
	}

	// Track nested steps and needed jobs so the scheduler can tell when
	// the execution may proceed or finish.
	for _, step := range job.Steps {
		ret.Dependencies[step.ID] = JobStatePending
	}
	for _, need := range job.Needs {
		ret.Dependencies[need] = JobStatePending
	}

	if parent != nil {
		ret.ParentJobID = parent.ID
		if parent.Async {
			ret.GroupID = parent.ID
		}
	}

	return ret
}

// Start marks the execution as started.
func (e *Execution) Start() {
	now := clock.Now()
	e.StartedAt = &now
	e.State = JobStateRunning
}

// Complete marks the execution as completed.
func (e *Execution) Complete() {
	now := clock.Now()
	e.CompletedAt = &now
	e.State = JobStateCompleted
}

func (e *Execution) Pause() {
	now := clock.Now()
	e.PausedAt = &now
	e.State = JobStatePaused
}

// Fail marks the execution as failed.
func (e *Execution) Fail(err error) {
	now := clock.Now()
	e.CompletedAt = &now
	if err != nil {
		e.Error = err.Error()
	}
	e.State = JobStateFailed
}

// Cancel marks the execution as cancelled, either on explicit request or
// when a fail-fast matrix group tears down its pending legs.
func (e *Execution) Cancel(reason string) {
	now := clock.Now()
	e.CompletedAt = &now
	if reason != "" {
		e.Error = reason
	}
	e.State = JobStateCancelled
}

func (e *Execution) Skip() {
	e.State = JobStateSkipped
}

func (e *Execution) Schedule() {
	e.ScheduledAt = clock.Now()
}

func (e *Execution) Merge(execution *Execution) {
	if execution == nil || execution == e {
		return
	}
	e.mux.Lock()
	execution.mux.RLock()
	defer execution.mux.RUnlock()
	defer e.mux.Unlock()

	if execution.Output != nil {
		e.Output = execution.Output
	}
	if execution.GotoJob != "" {
		e.GotoJob = execution.GotoJob
	}
	if execution.State != "" {
		e.State = execution.State
	}
	if execution.Error != "" {
		e.Error = execution.Error
	}
	if execution.StartedAt != nil {
		e.StartedAt = execution.StartedAt
	}
	if execution.CompletedAt != nil {
		e.CompletedAt = execution.CompletedAt
	}
	if execution.PausedAt != nil {
		e.PausedAt = execution.PausedAt
	}

	if e.Dependencies == nil {
		e.Dependencies = make(map[string]JobState)
	}
	for key, value := range execution.Dependencies {
		e.Dependencies[key] = value
	}

	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
	for key, value := range execution.Meta {
		e.Meta[key] = value
	}
}

// generateExecutionID creates a unique ID for an execution.
func generateExecutionID(runID, jobID string) string {
	return fmt.Sprintf("%s-%s-%s", runID, jobID, idgen.New())
}

// Clone creates a deep copy of the execution so that the caller can mutate
// it without affecting the original instance. Only mutable collections are
// deep-copied; pointer fields referencing immutable data are shared.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	e.mux.RLock()
	defer e.mux.RUnlock()

	clone := *e
	// The copy needs its own lock, independent from the source.
	clone.mux = sync.RWMutex{}

	if e.Combination != nil {
		clone.Combination = make(map[string]interface{}, len(e.Combination))
		for k, v := range e.Combination {
			clone.Combination[k] = v
		}
	}

	if e.Data != nil {
		clone.Data = make(map[string]interface{}, len(e.Data))
		for k, v := range e.Data {
			clone.Data[k] = v
		}
	}

	if e.Meta != nil {
		clone.Meta = make(map[string]interface{}, len(e.Meta))
		for k, v := range e.Meta {
			clone.Meta[k] = v
		}
	}

	if e.Dependencies != nil {
		clone.Dependencies = make(map[string]JobState, len(e.Dependencies))
		for k, v := range e.Dependencies {
			clone.Dependencies[k] = v
		}
	}

	if len(e.Needs) > 0 {
		clone.Needs = append([]string(nil), e.Needs...)
	}

	if e.RunAfter != nil {
		t := *e.RunAfter
		clone.RunAfter = &t
	}

	return &clone
}
