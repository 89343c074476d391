package execution

import (
	"context"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/clock"
	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/policy"
	"github.com/gantryci/gantry/tracing"
)

// Run state constants
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StatePaused    = "paused"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Run represents a pipeline execution instance.
type Run struct {
	ID         string            `json:"id"`
	ParentID   string            `json:"parentId,omitempty"`
	SCN        int               `json:"scn"`
	Name       string            `json:"name"`
	State      string            `json:"state"`
	Pipeline   *model.Pipeline   `json:"pipeline"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
	FinishedAt *time.Time        `json:"finishedAt"`
	Session    *Session          `json:"session"`
	Stack      []*Execution      `json:"stack,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	Span       *tracing.Span     `json:"-"`
	Mode       string            `json:"mode"` //debug
	// For serverless environments
	ActiveJobCount  int             `json:"activeJobCount"`
	ActiveJobGroups map[string]bool `json:"activeJobGroups"`
	Policy          *policy.Config  `json:"policy,omitempty"`
	// CancelRequested is set by the public cancel operation; the scheduler
	// acts on it at the next safe point.
	CancelRequested bool                  `json:"cancelRequested,omitempty"`
	mu              sync.RWMutex          // Protects concurrent access
	allJobs         map[string]*graph.Job // Cached job lookup
}

// NewRun creates a new run.
func NewRun(id string, name string, pipeline *model.Pipeline, initialState map[string]interface{}) *Run {
	now := clock.Now()
	if initialState == nil {
		initialState = make(map[string]interface{})
	}
	return &Run{
		ID:              id,
		Name:            name,
		State:           StatePending,
		Pipeline:        pipeline,
		CreatedAt:       now,
		UpdatedAt:       now,
		Session:         NewSession(id, WithState(initialState)),
		ActiveJobCount:  0,
		ActiveJobGroups: make(map[string]bool),
		Errors:          make(map[string]string),
	}
}

// RegisterJob adds a job (and its nested steps) to the run's job lookup map
// at runtime. It is primarily used for matrix expansions that create job
// legs dynamically after the run has started executing.
func (r *Run) RegisterJob(j *graph.Job) {
	if j == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.allJobs == nil {
		r.allJobs = make(map[string]*graph.Job)
	}
	var recurse func(*graph.Job)
	recurse = func(job *graph.Job) {
		if job == nil {
			return
		}
		if _, exists := r.allJobs[job.ID]; !exists {
			r.allJobs[job.ID] = job
			if job.Name != "" {
				r.allJobs[job.Name] = job
			}
		}
		for _, step := range job.Steps {
			recurse(step)
		}
	}
	recurse(j)
}

// SetDep safely records jobID dependency state inside e.Dependencies.
func (r *Run) SetDep(e *Execution, jobID string, state JobState) {
	e.mux.Lock()
	if e.Dependencies == nil {
		e.Dependencies = make(map[string]JobState)
	}
	e.Dependencies[jobID] = state
	e.mux.Unlock()
}

// GetDep safely reads a dependency value; second return value indicates presence.
func (r *Run) GetDep(e *Execution, jobID string) (JobState, bool) {
	e.mux.RLock()
	val, ok := e.Dependencies[jobID]
	e.mux.RUnlock()
	return val, ok
}

// CopyFrom updates exported, mutex-independent fields from src. It
// intentionally skips the mutex as copying it would corrupt internal state.
func (r *Run) CopyFrom(src any) {
	other, ok := src.(*Run)
	if !ok || other == nil || r == other {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.SCN = other.SCN
	r.State = other.State
	r.UpdatedAt = other.UpdatedAt
	r.FinishedAt = other.FinishedAt
	r.Stack = other.Stack
	r.Errors = other.Errors
	r.ActiveJobCount = other.ActiveJobCount
	r.ActiveJobGroups = other.ActiveJobGroups
	r.CancelRequested = other.CancelRequested
	// Session and Pipeline are immutable references, no copy.
}

// Wait blocks until the run reaches a terminal state or the timeout expires.
type Wait func(ctx context.Context, timeout time.Duration) (*RunOutput, error)

// RunOutput is the final snapshot handed to a waiting caller.
type RunOutput struct {
	RunID     string
	State     string
	Output    map[string]interface{}
	Errors    map[string]string
	TimeTaken time.Duration
	Timeout   bool
}

func (r *Run) LookupJob(jobID string) *graph.Job {
	allJobs := r.AllJobs()
	return allJobs[jobID]
}

func (r *Run) LookupExecution(jobID string) *Execution {
	for i := len(r.Stack) - 1; i >= 0; i-- {
		if r.Stack[i].JobID == jobID {
			return r.Stack[i]
		}
	}
	return nil
}

func (r *Run) AllJobs() map[string]*graph.Job {
	r.mu.RLock()
	ret := r.allJobs
	r.mu.RUnlock()
	if ret != nil {
		return ret
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allJobs = r.Pipeline.AllJobs()
	return r.allJobs
}

func (r *Run) Push(executions ...*Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stack = append(r.Stack, executions...)
}

func (r *Run) Remove(anExecution *Execution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Stack) == 0 || anExecution == nil {
		return
	}

	// Filter-copy preserving order; this correctly handles removal of any
	// element including the last.
	newStack := r.Stack[:0]
	for _, exec := range r.Stack {
		if exec.ID != anExecution.ID {
			newStack = append(newStack, exec)
		}
	}
	r.Stack = newStack
}

// StackSnapshot returns a copy of the stack slice so callers can iterate
// while executions are being pushed or removed concurrently.
func (r *Run) StackSnapshot() []*Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Execution(nil), r.Stack...)
}

func (r *Run) Peek() *Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Stack) == 0 {
		return nil
	}
	return r.Stack[len(r.Stack)-1]
}

// GetState returns the run state.
func (r *Run) GetState() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.State
}

// SetState updates the run state.
func (r *Run) SetState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = state
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		now := clock.Now()
		r.FinishedAt = &now
	}
	r.UpdatedAt = clock.Now()
}

// RequestCancel flags the run for cancellation.
func (r *Run) RequestCancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CancelRequested = true
	r.UpdatedAt = clock.Now()
}

// IsCancelRequested reports whether cancellation was requested.
func (r *Run) IsCancelRequested() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.CancelRequested
}

// IncrementActiveJobCount increments the active job counter.
func (r *Run) IncrementActiveJobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ActiveJobCount++
	return r.ActiveJobCount
}

// DecrementActiveJobCount decrements the active job counter.
func (r *Run) DecrementActiveJobCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ActiveJobCount > 0 {
		r.ActiveJobCount--
	}
	return r.ActiveJobCount
}

// GetActiveJobCount returns the current active job count.
func (r *Run) GetActiveJobCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ActiveJobCount
}

// AddActiveJobGroup marks a job group as active.
func (r *Run) AddActiveJobGroup(groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ActiveJobGroups[groupID] = true
}

// RemoveActiveJobGroup removes a job group from active groups.
func (r *Run) RemoveActiveJobGroup(groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ActiveJobGroups, groupID)
}

// HasActiveJobGroup checks if a job group is active.
func (r *Run) HasActiveJobGroup(groupID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.ActiveJobGroups[groupID]
	return exists
}

// Clone creates a deep copy of the Run suitable for safe concurrent
// reads and mutations outside the original store. The Pipeline pointer is
// not cloned because definitions are immutable after initial load.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}

	out := &Run{
		ID:              r.ID,
		ParentID:        r.ParentID,
		SCN:             r.SCN,
		Name:            r.Name,
		State:           r.State,
		Pipeline:        r.Pipeline, // immutable, safe to share
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		FinishedAt:      r.FinishedAt,
		Session:         r.Session, // has own locking, safe to share
		Span:            r.Span,
		Mode:            r.Mode,
		ActiveJobCount:  r.ActiveJobCount,
		Policy:          r.Policy,
		CancelRequested: r.CancelRequested,
	}

	if len(r.Stack) > 0 {
		out.Stack = make([]*Execution, len(r.Stack))
		for i, ex := range r.Stack {
			out.Stack[i] = ex.Clone()
		}
	}

	if r.Errors != nil {
		out.Errors = make(map[string]string, len(r.Errors))
		for k, v := range r.Errors {
			out.Errors[k] = v
		}
	}

	if r.ActiveJobGroups != nil {
		out.ActiveJobGroups = make(map[string]bool, len(r.ActiveJobGroups))
		for k, v := range r.ActiveJobGroups {
			out.ActiveJobGroups[k] = v
		}
	}

	// Preserve dynamically registered jobs so that lookups for matrix legs
	// added through RegisterJob keep working after the run instance has
	// been cloned, e.g. when it is stored in / loaded from the DAO. Without
	// this copy allJobs would be nil in the clone and later scheduler
	// iterations would fail with "job <id> not found".
	if r.allJobs != nil {
		out.allJobs = make(map[string]*graph.Job, len(r.allJobs))
		for k, v := range r.allJobs {
			out.allJobs[k] = v
		}
	}

	return out
}
