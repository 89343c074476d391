package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/logging"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/runtime/evaluator"
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/runtime/expander"
	"github.com/gantryci/gantry/runtime/matrix"
	"github.com/gantryci/gantry/service/approval"
	"github.com/gantryci/gantry/service/dao"
	"github.com/gantryci/gantry/service/event"
	"github.com/gantryci/gantry/service/messaging"
	"github.com/gantryci/gantry/tracing"
)

// Recorder persists finished runs, typically into the history store.
type Recorder interface {
	RecordRun(ctx context.Context, run *execution.Run) error
}

// Config holds scheduler configuration.
type Config struct {
	PollingInterval time.Duration
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		PollingInterval: 20 * time.Millisecond,
	}
}

// Service advances runs: it resolves needs, expands matrix strategies,
// evaluates conditions and hands leaf steps to the processor queue.
type Service struct {
	config       Config
	runDAO       dao.Service[string, execution.Run]
	executionDAO dao.Service[string, execution.Execution]
	queue        messaging.Queue[execution.Execution]
	groups       *matrix.Store
	recorder     Recorder
	approval     approval.Service
	shutdownCh   chan struct{}
}

// New creates a scheduler service.
func New(
	runDAO dao.Service[string, execution.Run],
	executionDAO dao.Service[string, execution.Execution],
	queue messaging.Queue[execution.Execution],
	config Config,
	options ...Option,
) *Service {
	if config.PollingInterval <= 0 {
		config.PollingInterval = DefaultConfig().PollingInterval
	}
	ret := &Service{
		config:       config,
		runDAO:       runDAO,
		executionDAO: executionDAO,
		queue:        queue,
		groups:       matrix.NewStore(),
		shutdownCh:   make(chan struct{}),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Start begins the scheduling loop and blocks until ctx is cancelled or
// Shutdown is called.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			if err := s.allocateJobs(ctx); err != nil {
				logging.Warnf("scheduler: allocation error: %v", err)
			}
		}
	}
}

// Shutdown stops the scheduling loop.
func (s *Service) Shutdown() {
	select {
	case <-s.shutdownCh:
	default:
		close(s.shutdownCh)
	}
}

// allocateJobs advances every run that still has work.
func (s *Service) allocateJobs(ctx context.Context) error {
	runs, err := s.runDAO.List(ctx, dao.NewParameter("State", execution.StatePending, execution.StateRunning))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	for _, run := range runs {
		if run.GetState() != execution.StateRunning {
			continue
		}
		if err := s.scheduleNextJobs(ctx, run); err != nil {
			logging.Warnf("scheduler: run %v: %v", run.ID, err)
		}
	}
	return nil
}

// scheduleNextJobs performs one scheduling pass over the run's stack.
func (s *Service) scheduleNextJobs(ctx context.Context, run *execution.Run) error {
	if run.IsCancelRequested() {
		if err := s.cancelPendingWork(ctx, run); err != nil {
			return err
		}
	}
	stack := run.StackSnapshot()
	if len(stack) == 0 {
		return s.finalizeRun(ctx, run)
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if err := s.adviseExecution(ctx, run, stack[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) adviseExecution(ctx context.Context, run *execution.Run, anExecution *execution.Execution) error {
	job := run.LookupJob(anExecution.JobID)
	if job == nil {
		anExecution.Fail(fmt.Errorf("unknown job: %v", anExecution.JobID))
		return s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateFailed)
	}

	switch anExecution.State {
	case execution.JobStatePending, execution.JobStateWaitForNeeds:
		return s.handlePendingJob(ctx, run, job, anExecution)
	case execution.JobStateScheduled, execution.JobStateRunning,
		execution.JobStatePaused, execution.JobStateWaitForApproval:
		return s.handleInFlightJob(ctx, run, job, anExecution)
	case execution.JobStateWaitForSteps:
		if group := s.groups.Get(anExecution.ID); group != nil {
			return s.handleMatrixRendezvous(ctx, run, anExecution, group)
		}
		return s.ensureSteps(ctx, run, job, anExecution)
	default:
		// Terminal executions still on the stack, e.g. legs cancelled by a
		// fail-fast sibling.
		return s.handleProcessedExecution(ctx, run, anExecution, anExecution.State)
	}
}

// handlePendingJob moves a pending execution forward: waits out retry
// backoff, resolves needs, evaluates its condition and either expands a
// matrix, descends into steps or dispatches a leaf step.
func (s *Service) handlePendingJob(ctx context.Context, run *execution.Run, job *graph.Job, anExecution *execution.Execution) error {
	if anExecution.RunAfter != nil && time.Now().Before(*anExecution.RunAfter) {
		return nil
	}

	resolved, err := s.ensureNeeds(ctx, run, job, anExecution)
	if err != nil {
		anExecution.Fail(err)
		return s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateFailed)
	}
	if !resolved {
		return nil
	}

	status := s.statusFor(run, job, anExecution)
	if !s.evaluateIf(run, job, anExecution, status) {
		anExecution.Skip()
		return s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateSkipped)
	}

	if job.Strategy != nil && job.Strategy.Matrix != nil {
		return s.expandMatrix(ctx, run, job, anExecution)
	}

	if job.IsGate() && len(job.Steps) > 0 {
		if done, err := s.handleGate(ctx, run, job, anExecution); done || err != nil {
			return err
		}
	}

	// Matrix legs compete for group slots when maxParallel caps the group.
	if anExecution.GroupID != "" {
		if group := s.groups.Get(anExecution.GroupID); group != nil {
			if group.ShouldCancelRemaining() || run.IsCancelRequested() {
				anExecution.Cancel("cancelled before start")
				return s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateCancelled)
			}
			if !group.TryAcquire() {
				return nil
			}
			if anExecution.Meta == nil {
				anExecution.Meta = make(map[string]interface{})
			}
			anExecution.Meta[metaGroupSlot] = true
		}
	}

	if len(job.Steps) == 0 {
		return s.updateExecutionState(ctx, run, anExecution, execution.JobStateScheduled)
	}

	anExecution.State = execution.JobStateWaitForSteps
	if err := s.runDAO.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return s.ensureSteps(ctx, run, job, anExecution)
}

const metaGroupSlot = "groupSlot"

// ensureNeeds schedules executions for unmet needs and reports whether all
// needs have reached a terminal state.
func (s *Service) ensureNeeds(ctx context.Context, run *execution.Run, job *graph.Job, anExecution *execution.Execution) (bool, error) {
	if len(anExecution.Needs) == 0 {
		return true, nil
	}
	resolved := 0
	pushed := false
	for _, need := range anExecution.Needs {
		needJob := run.LookupJob(need)
		if needJob == nil {
			return false, fmt.Errorf("job %v needs unknown job: %v", job.ID, need)
		}
		state, _ := run.GetDep(anExecution, need)
		if state.IsTerminal() {
			resolved++
			continue
		}
		if state == execution.JobStatePending && run.LookupExecution(needJob.ID) == nil {
			run.SetDep(anExecution, need, execution.JobStateScheduled)
			run.Push(execution.NewExecution(run.ID, job, needJob))
			pushed = true
		}
	}
	if resolved == len(anExecution.Needs) {
		return true, nil
	}
	anExecution.State = execution.JobStateWaitForNeeds
	if pushed {
		if err := s.runDAO.Save(ctx, run); err != nil {
			return false, fmt.Errorf("failed to save run: %w", err)
		}
	}
	return false, nil
}

// statusFor builds the status context an `if` expression evaluates against:
// needs outcomes for jobs, prior sibling outcomes for sequential steps and
// the run's cancellation flag.
func (s *Service) statusFor(run *execution.Run, job *graph.Job, anExecution *execution.Execution) evaluator.Status {
	status := evaluator.Status{Cancelled: run.IsCancelRequested()}
	for _, need := range anExecution.Needs {
		switch state, _ := run.GetDep(anExecution, need); state {
		case execution.JobStateFailed:
			status.Failed = true
		case execution.JobStateCancelled:
			status.Cancelled = true
		}
	}
	if anExecution.ParentJobID == "" {
		return status
	}
	parentJob := run.LookupJob(anExecution.ParentJobID)
	parentExecution := run.LookupExecution(anExecution.ParentJobID)
	if parentJob == nil || parentExecution == nil || parentJob.IsAsync() {
		return status
	}
	for _, sibling := range parentJob.Steps {
		if sibling.ID == anExecution.JobID {
			break
		}
		switch state, _ := run.GetDep(parentExecution, sibling.ID); state {
		case execution.JobStateFailed:
			status.Failed = true
		case execution.JobStateCancelled:
			status.Cancelled = true
		}
	}
	return status
}

// evaluateIf applies the job's condition; an absent condition requires a
// clean status, matching the implicit success() guard.
func (s *Service) evaluateIf(run *execution.Run, job *graph.Job, anExecution *execution.Execution, status evaluator.Status) bool {
	scope := run.Session.GetAll()
	if len(anExecution.Combination) > 0 {
		scope["matrix"] = anExecution.Combination
	}
	result := evaluator.Condition(job.If, status, scope)
	if job.If != "" {
		run.Session.FireCondition(job.If, result)
	}
	return result
}

// handleGate parks a grouping gate job until a decision arrives; leaf gates
// are resolved by the processor on dequeue.
func (s *Service) handleGate(ctx context.Context, run *execution.Run, job *graph.Job, anExecution *execution.Execution) (bool, error) {
	if anExecution.Approved == nil {
		anExecution.State = execution.JobStateWaitForApproval
		if err := s.executionDAO.Save(ctx, anExecution); err != nil {
			return true, fmt.Errorf("failed to save execution: %w", err)
		}
		if err := s.runDAO.Save(ctx, run); err != nil {
			return true, fmt.Errorf("failed to save run: %w", err)
		}
		if s.approval != nil {
			request := &approval.Request{RunID: run.ID, ExecutionID: anExecution.ID, Action: "gate"}
			if err := s.approval.RequestApproval(ctx, request); err != nil {
				logging.Warnf("scheduler: approval request for %v failed: %v", anExecution.ID, err)
			}
		}
		return true, nil
	}
	if !*anExecution.Approved {
		reason := anExecution.ApprovalReason
		if reason == "" {
			reason = "approval rejected"
		}
		anExecution.Cancel(reason)
		return true, s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateCancelled)
	}
	return false, nil
}

// expandMatrix turns a matrix job into one leg per combination and parks the
// driver execution until the group completes.
func (s *Service) expandMatrix(ctx context.Context, run *execution.Run, job *graph.Job, anExecution *execution.Execution) error {
	combinations, err := job.Strategy.Combinations()
	if err != nil {
		anExecution.Fail(err)
		return s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateFailed)
	}
	if len(combinations) == 0 {
		anExecution.Complete()
		return s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateCompleted)
	}

	group := s.groups.Create(&matrix.Group{
		ID:           anExecution.ID,
		ParentRunID:  run.ID,
		ParentExecID: anExecution.ID,
		Expected:     len(combinations),
		FailFast:     job.Strategy.IsFailFast(),
		MaxParallel:  job.Strategy.MaxParallel,
	})

	legs := make([]*execution.Execution, 0, len(combinations))
	for _, combination := range combinations {
		leg := job.Clone()
		suffix := "[" + combination.ID() + "]"
		relabelJob(leg, job.ID, job.ID+suffix, suffix)
		// The condition was already evaluated on the driver; legs carry their
		// own step-level conditions.
		leg.Name = ""
		leg.If = ""
		leg.Strategy = nil
		run.RegisterJob(leg)

		legExecution := execution.NewExecution(run.ID, job, leg)
		legExecution.GroupID = group.ID
		legExecution.Combination = map[string]interface{}(combination)
		run.SetDep(anExecution, leg.ID, execution.JobStateScheduled)
		legs = append(legs, legExecution)
	}
	run.Push(legs...)

	anExecution.State = execution.JobStateWaitForSteps
	if err := s.executionDAO.Save(ctx, anExecution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	if err := s.runDAO.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// relabelJob rewrites a cloned leg's identifiers so legs never collide with
// the authored job or with each other. Namespaces get the same suffix so
// parallel legs promote outputs under distinct session keys.
func relabelJob(job *graph.Job, oldPrefix, newPrefix, suffix string) {
	if job == nil {
		return
	}
	if strings.HasPrefix(job.ID, oldPrefix) {
		job.ID = newPrefix + job.ID[len(oldPrefix):]
	} else {
		job.ID = job.ID + suffix
	}
	if job.Namespace != "" {
		job.Namespace += suffix
	}
	for _, step := range job.Steps {
		relabelJob(step, oldPrefix, newPrefix, suffix)
	}
}

// handleMatrixRendezvous finalizes a matrix driver once all legs reported,
// cancelling pending legs when fail-fast kicked in.
func (s *Service) handleMatrixRendezvous(ctx context.Context, run *execution.Run, anExecution *execution.Execution, group *matrix.Group) error {
	if group.ShouldCancelRemaining() || run.IsCancelRequested() {
		for _, candidate := range run.StackSnapshot() {
			if candidate.GroupID != group.ID || candidate.State != execution.JobStatePending {
				continue
			}
			candidate.Cancel("cancelled by fail-fast")
			if err := s.handleProcessedExecution(ctx, run, candidate, execution.JobStateCancelled); err != nil {
				return err
			}
		}
	}
	if !group.Done() {
		return nil
	}
	state := execution.JobStateCompleted
	if group.Failed() {
		state = execution.JobStateFailed
	} else if group.Cancelled() {
		state = execution.JobStateCancelled
	}
	anExecution.Output = group.AggregateOutputs()
	s.groups.Delete(group.ID)
	return s.handleProcessedExecution(ctx, run, anExecution, state)
}

// ensureSteps schedules the children of a grouping job: all at once when the
// job is async, one at a time otherwise. Once every child is terminal the
// parent concludes.
func (s *Service) ensureSteps(ctx context.Context, run *execution.Run, job *graph.Job, anExecution *execution.Execution) error {
	allTerminal := true
	priorTerminal := true
	anyFailed := false
	anyCancelled := false
	pushed := false

	for _, step := range job.Steps {
		state, _ := run.GetDep(anExecution, step.ID)
		switch {
		case state == execution.JobStatePending && run.IsCancelRequested():
			// Never start new work once cancellation was requested.
			run.SetDep(anExecution, step.ID, execution.JobStateCancelled)
			anyCancelled = true
		case state == execution.JobStatePending:
			allTerminal = false
			if (job.IsAsync() || priorTerminal) && run.LookupExecution(step.ID) == nil {
				child := execution.NewExecution(run.ID, job, step)
				child.Combination = anExecution.Combination
				run.SetDep(anExecution, step.ID, execution.JobStateScheduled)
				run.Push(child)
				pushed = true
			}
			priorTerminal = false
		case state.IsTerminal():
			if state == execution.JobStateFailed {
				anyFailed = true
			}
			if state == execution.JobStateCancelled {
				anyCancelled = true
			}
		default:
			allTerminal = false
			priorTerminal = false
		}
	}

	if allTerminal {
		state := execution.JobStateCompleted
		if anyFailed {
			state = execution.JobStateFailed
		} else if anyCancelled {
			state = execution.JobStateCancelled
		}
		return s.handleProcessedExecution(ctx, run, anExecution, state)
	}
	if pushed {
		if err := s.runDAO.Save(ctx, run); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
	}
	return nil
}

// handleInFlightJob syncs a dispatched execution with its DAO copy and
// republishes retries whose backoff has elapsed.
func (s *Service) handleInFlightJob(ctx context.Context, run *execution.Run, job *graph.Job, anExecution *execution.Execution) error {
	if anExecution.State == execution.JobStateScheduled && anExecution.RunAfter != nil {
		if time.Now().Before(*anExecution.RunAfter) {
			return nil
		}
		anExecution.RunAfter = nil
		anExecution.Schedule()
		if err := s.executionDAO.Save(ctx, anExecution); err != nil {
			return fmt.Errorf("failed to save execution: %w", err)
		}
		return s.publishExecution(ctx, run, anExecution)
	}

	stored, err := s.executionDAO.Load(ctx, anExecution.ID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load execution %v: %w", anExecution.ID, err)
	}
	if stored.State == anExecution.State {
		return nil
	}
	anExecution.Merge(stored)
	if anExecution.State.IsTerminal() {
		return s.handleProcessedExecution(ctx, run, anExecution, anExecution.State)
	}
	return nil
}

// handleProcessedExecution concludes an execution: promotes its output,
// applies post parameters and goto transitions, notifies waiting executions
// and settles matrix group accounting.
func (s *Service) handleProcessedExecution(ctx context.Context, run *execution.Run, anExecution *execution.Execution, state execution.JobState) error {
	job := run.LookupJob(anExecution.JobID)
	if job == nil {
		run.Remove(anExecution)
		return s.runDAO.Save(ctx, run)
	}

	outputMap := map[string]interface{}{}
	if state == execution.JobStateCompleted {
		output := anExecution.Output
		if data, err := json.Marshal(anExecution.Output); err == nil {
			if err = json.Unmarshal(data, &outputMap); err == nil {
				output = outputMap
			}
		}
		run.Session.Set(namespaceOf(job), output)
	}
	if state == execution.JobStateCompleted || state == execution.JobStateSkipped {
		s.handleJobDone(run, job, anExecution, outputMap)
	}
	if state == execution.JobStateFailed && anExecution.Error != "" && !job.ContinueOnError {
		if run.Errors == nil {
			run.Errors = make(map[string]string)
		}
		run.Errors[namespaceOf(job)] = anExecution.Error
	}

	// A failed step with continueOnError counts as completed for everything
	// that waits on it.
	effective := state
	if state == execution.JobStateFailed && job.ContinueOnError {
		effective = execution.JobStateCompleted
	}
	for _, other := range run.StackSnapshot() {
		if other.ID == anExecution.ID {
			continue
		}
		if _, ok := run.GetDep(other, job.ID); ok {
			run.SetDep(other, job.ID, effective)
		}
		if job.Name != "" && job.Name != job.ID {
			if _, ok := run.GetDep(other, job.Name); ok {
				run.SetDep(other, job.Name, effective)
			}
		}
	}

	if anExecution.GroupID != "" {
		if group := s.groups.Get(anExecution.GroupID); group != nil {
			if acquired, _ := anExecution.Meta[metaGroupSlot].(bool); acquired {
				group.Release()
			}
			group.MarkDone(state == execution.JobStateFailed, state == execution.JobStateCancelled, anExecution.Output)
		}
	}

	// A cancelled root execution (e.g. a rejected gate bubbling up) cancels
	// the whole run.
	if state == execution.JobStateCancelled && anExecution.ParentJobID == "" {
		run.RequestCancel()
	}

	run.Remove(anExecution)
	if err := s.executionDAO.Save(ctx, anExecution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	if err := s.runDAO.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if anExecution.GotoJob != "" {
		return s.handleTransition(ctx, run, job, anExecution.GotoJob)
	}
	return nil
}

// handleJobDone promotes post parameters into session state and resolves
// goto transitions against the job's output.
func (s *Service) handleJobDone(run *execution.Run, job *graph.Job, anExecution *execution.Execution, outputMap map[string]interface{}) {
	source := run.Session.Clone()
	for key, value := range outputMap {
		source.Set(key, value)
	}
	for _, parameter := range job.Post {
		evaluated, err := expander.Expand(parameter.Value, source.State)
		if err != nil {
			logging.Warnf("scheduler: post parameter %v of %v: %v", parameter.Name, job.ID, err)
			continue
		}
		if name, ok := strings.CutSuffix(parameter.Name, "[]"); ok {
			run.Session.Append(name, evaluated)
			continue
		}
		run.Session.Set(parameter.Name, evaluated)
	}
	if len(job.Goto) == 0 {
		return
	}
	scope := source.GetAll()
	if len(anExecution.Combination) > 0 {
		scope["matrix"] = anExecution.Combination
	}
	for _, transition := range job.Goto {
		if evaluator.Condition(transition.When, evaluator.Status{}, scope) {
			anExecution.GotoJob = transition.Job
			break
		}
	}
}

// handleTransition pushes an execution for a goto target; an unknown target
// ends the chain.
func (s *Service) handleTransition(ctx context.Context, run *execution.Run, fromJob *graph.Job, target string) error {
	toJob := run.LookupJob(target)
	if toJob == nil {
		logging.Infof("scheduler: goto target %v not found, ending chain", target)
		return nil
	}
	run.Push(execution.NewExecution(run.ID, fromJob, toJob))
	return s.runDAO.Save(ctx, run)
}

// updateExecutionState persists a state change; scheduled executions are
// handed to the processor queue.
func (s *Service) updateExecutionState(ctx context.Context, run *execution.Run, anExecution *execution.Execution, state execution.JobState) error {
	if state == execution.JobStateScheduled {
		anExecution.Schedule()
	} else {
		anExecution.State = state
	}
	if err := s.executionDAO.Save(ctx, anExecution); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	if err := s.runDAO.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if state == execution.JobStateScheduled {
		return s.publishExecution(ctx, run, anExecution)
	}
	return nil
}

// publishExecution emits a scheduled event and enqueues the execution for
// the processor workers.
func (s *Service) publishExecution(ctx context.Context, run *execution.Run, anExecution *execution.Execution) error {
	if value := ctx.Value(execution.EventKey); value != nil {
		service := value.(*event.Service)
		if publisher, err := event.PublisherOf[*execution.Execution](service); err == nil {
			job := run.LookupJob(anExecution.JobID)
			anEvent := event.NewEvent[*execution.Execution](anExecution.Context("scheduled", job), anExecution)
			if err = publisher.Publish(ctx, anEvent); err != nil {
				logging.Warnf("scheduler: failed to publish scheduled event: %v", err)
			}
		}
	}
	return s.queue.Publish(ctx, anExecution)
}

// cancelPendingWork cancels stack executions that have not been handed to a
// worker yet; running steps conclude on their own.
func (s *Service) cancelPendingWork(ctx context.Context, run *execution.Run) error {
	for _, anExecution := range run.StackSnapshot() {
		switch anExecution.State {
		case execution.JobStatePending, execution.JobStateScheduled,
			execution.JobStateWaitForNeeds, execution.JobStateWaitForApproval:
			anExecution.Cancel("run cancelled")
			if err := s.handleProcessedExecution(ctx, run, anExecution, execution.JobStateCancelled); err != nil {
				return err
			}
		}
	}
	return nil
}

// finalizeRun settles a run whose stack drained: state, span, history record
// and run event.
func (s *Service) finalizeRun(ctx context.Context, run *execution.Run) error {
	if run.GetState() != execution.StateRunning {
		return nil
	}
	state := execution.StateCompleted
	var finalErr error
	switch {
	case run.IsCancelRequested():
		state = execution.StateCancelled
		finalErr = errors.New("run cancelled")
	case len(run.Errors) > 0:
		state = execution.StateFailed
		finalErr = fmt.Errorf("run failed: %d job(s) reported errors", len(run.Errors))
	}
	run.SetState(state)
	if run.Span != nil {
		tracing.EndSpan(run.Span, finalErr)
		run.Span = nil
	}
	if s.recorder != nil {
		if err := s.recorder.RecordRun(ctx, run); err != nil {
			logging.Warnf("scheduler: failed to record run %v: %v", run.ID, err)
		}
	}
	if value := ctx.Value(execution.EventKey); value != nil {
		service := value.(*event.Service)
		if publisher, err := event.PublisherOf[*execution.Run](service); err == nil {
			eCtx := &event.Context{RunID: run.ID, EventType: "runFinished"}
			if err = publisher.Publish(ctx, event.NewEvent[*execution.Run](eCtx, run)); err != nil {
				logging.Warnf("scheduler: failed to publish run event: %v", err)
			}
		}
	}
	if err := s.runDAO.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// namespaceOf returns the session key a job's output is promoted under.
func namespaceOf(job *graph.Job) string {
	if job.Namespace != "" {
		return job.Namespace
	}
	return job.ID
}
