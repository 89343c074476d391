package execution

// JobState represents the current state of a job execution.
type JobState string

const (
	JobStatePending      JobState = "pending"
	JobStateScheduled    JobState = "scheduled"
	JobStateRunning      JobState = "running"
	JobStateWaitForNeeds JobState = "waitForNeeds" // waiting for needed jobs
	JobStateWaitForSteps JobState = "waitForSteps" // waiting for nested steps
	// JobStateWaitForApproval indicates the job is gated and waits for an
	// explicit decision before it can be executed.
	JobStateWaitForApproval JobState = "waitForApproval"
	JobStateCompleted       JobState = "completed"
	JobStateFailed          JobState = "failed"
	JobStatePaused          JobState = "paused"
	JobStateSkipped         JobState = "skipped"
	JobStateCancelled       JobState = "cancelled"
)

func (s JobState) IsWaitForApproval() bool {
	return s == JobStateWaitForApproval
}

// IsTerminal reports whether the state can no longer change.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateSkipped, JobStateCancelled:
		return true
	}
	return false
}

// Succeeded reports whether the state satisfies a needs edge; skipped jobs
// count as satisfied so optional legs do not wedge their dependents.
func (s JobState) Succeeded() bool {
	return s == JobStateCompleted || s == JobStateSkipped
}
