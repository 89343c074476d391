package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gantryci/gantry/internal/logging"
	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/policy"
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/approval"
	"github.com/gantryci/gantry/service/dao"
	"github.com/gantryci/gantry/service/event"
	"github.com/gantryci/gantry/service/executor"
	"github.com/gantryci/gantry/service/messaging"
	"github.com/gantryci/gantry/tracing"
)

// Config represents processor service configuration
type Config struct {
	// WorkerCount is the number of workers executing steps
	WorkerCount int

	// MaxJobRetries is the default maximum number of retries for a step
	MaxJobRetries int

	// RetryDelay is the default delay between retry attempts
	RetryDelay time.Duration
}

// DefaultConfig returns the default processor configuration
func DefaultConfig() Config {
	return Config{
		WorkerCount:   5,
		MaxJobRetries: 1,
		RetryDelay:    3 * time.Second,
	}
}

// Service runs the worker pool that executes scheduled steps.
type Service struct {
	config       Config
	runDAO       dao.Service[string, execution.Run]
	executionDAO dao.Service[string, execution.Execution]

	queue    messaging.Queue[execution.Execution]
	executor executor.Service
	approval approval.Service

	sessListeners []execution.StateListener
	condListeners []execution.ConditionListener

	workers    []*worker
	workerWg   sync.WaitGroup
	shutdownCh chan struct{}
}

type worker struct {
	id       int
	service  *Service
	ctx      context.Context
	cancelFn context.CancelFunc
}

// shouldRetry returns (retry?, delay)
func (s *Service) shouldRetry(cfg *graph.Retry, attempts int) (bool, time.Duration) {
	// No retry policy means the first failure is final.
	if cfg == nil || strings.ToLower(cfg.Type) == "none" {
		return false, 0
	}

	max := cfg.MaxRetries
	if max == 0 {
		max = s.config.MaxJobRetries
	}
	if attempts >= max {
		return false, 0
	}

	// Parse base delay
	baseDelay := s.config.RetryDelay
	if cfg.Delay != "" {
		if d, err := time.ParseDuration(cfg.Delay); err == nil {
			baseDelay = d
		}
	}

	switch strings.ToLower(cfg.Type) {
	case "exponential":
		mult := cfg.Multiplier
		if mult <= 1 {
			mult = 2
		}
		delay := float64(baseDelay) * math.Pow(mult, float64(attempts))
		maxDelay := cfg.MaxDelay
		if maxDelay != "" {
			if md, err := time.ParseDuration(maxDelay); err == nil {
				if time.Duration(delay) > md {
					delay = float64(md)
				}
			}
		}
		return true, time.Duration(delay)
	default: // fixed
		return true, baseDelay
	}
}

// New creates a new processor service
func New(options ...Option) (*Service, error) {
	s := &Service{
		config:     DefaultConfig(),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if s.queue == nil {
		return nil, fmt.Errorf("message queue is required")
	}
	if s.runDAO == nil {
		return nil, fmt.Errorf("run DAO is required")
	}
	if s.executionDAO == nil {
		return nil, fmt.Errorf("execution DAO is required")
	}

	return s, nil
}

// Start begins the step execution service
func (s *Service) Start(ctx context.Context) error {
	// Start worker goroutines
	for i := 0; i < s.config.WorkerCount; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		worker := &worker{
			id:       i,
			service:  s,
			ctx:      workerCtx,
			cancelFn: cancel,
		}
		s.workers = append(s.workers, worker)
		s.workerWg.Add(1)
		go worker.run()
	}

	return nil
}

// run processes messages from the queue
func (w *worker) run() {
	defer w.service.workerWg.Done()

	for {
		// Block until we either get a message or the context is cancelled.
		msg, err := w.service.queue.Consume(w.ctx)
		if err != nil {
			// Context was cancelled; graceful shutdown.
			if errors.Is(err, context.Canceled) {
				return
			}
			// Transient error (e.g. queue closed); back off a bit.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if msg == nil {
			continue
		}

		if pErr := w.service.processMessage(w.ctx, msg); pErr != nil {
			logging.Warnf("worker %d: failed to process message: %v", w.id, pErr)
		}
	}
}

// StartRun begins execution of a pipeline
func (s *Service) StartRun(ctx context.Context, pipeline *model.Pipeline, init map[string]interface{}) (run *execution.Run, err error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("processor.StartRun %s", pipeline.Name), "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"pipeline.name": pipeline.Name})

	// Generate a unique run ID
	runID := pipeline.Name + "/" + uuid.New().String()
	span.WithAttributes(map[string]string{"run.id": runID})

	run = execution.NewRun(runID, pipeline.Name, pipeline, init)
	if len(s.sessListeners) > 0 {
		run.Session.RegisterListeners(s.sessListeners...)
	}
	if len(s.condListeners) > 0 {
		run.Session.RegisterConditionListeners(s.condListeners...)
	}

	// Propagate policy (if any) from the incoming context so that executor
	// can enforce it later on.
	if p := policy.FromContext(ctx); p != nil {
		run.Policy = policy.ToConfig(p)
	}

	// Start a parent tracing span covering the whole run lifetime
	ctx, runSpan := tracing.StartSpan(ctx, fmt.Sprintf("run.execute %s", pipeline.Name), "INTERNAL")
	runSpan.WithAttributes(map[string]string{"run.id": runID, "pipeline.name": pipeline.Name})
	run.Span = runSpan

	// If the incoming context carries a parent run, record its ID so child
	// pipeline runs can be traced back.
	if parentRun := execution.ContextValue[*execution.Run](ctx); parentRun != nil {
		run.ParentID = parentRun.ID
	}

	// Apply run-start parameters from the pipeline definition
	if pipeline.Env != nil {
		if err = run.Session.ApplyParameters(pipeline.Env); err != nil {
			return nil, fmt.Errorf("failed to apply pipeline env: %w", err)
		}
	}

	if pipeline.Jobs == nil || len(pipeline.Jobs.Steps) == 0 {
		// A pipeline with no jobs completes immediately.
		run.SetState(execution.StateCompleted)
		tracing.EndSpan(runSpan, nil)
		run.Span = nil
		if err = s.runDAO.Save(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
		return run, nil
	}

	anExecution := execution.NewExecution(runID, nil, pipeline.Jobs)
	run.Push(anExecution)
	run.SetState(execution.StateRunning)

	if err = s.runDAO.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}
	s.publishRunStarted(ctx, run)
	// The scheduler picks the root execution up from here.
	return run, nil
}

// publishRunStarted emits a run lifecycle event when an event service rides
// on the context; failures only warn.
func (s *Service) publishRunStarted(ctx context.Context, run *execution.Run) {
	value := ctx.Value(execution.EventKey)
	if value == nil {
		return
	}
	service, ok := value.(*event.Service)
	if !ok || service == nil {
		return
	}
	publisher, err := event.PublisherOf[*execution.Run](service)
	if err != nil {
		return
	}
	eCtx := &event.Context{RunID: run.ID, EventType: "runStarted"}
	if err := publisher.Publish(ctx, event.NewEvent[*execution.Run](eCtx, run)); err != nil {
		logging.Warnf("failed to publish run started event: %v", err)
	}
}

// GetRun retrieves a run by ID
func (s *Service) GetRun(ctx context.Context, runID string) (*execution.Run, error) {
	return s.runDAO.Load(ctx, runID)
}

// PauseRun pauses a running run
func (s *Service) PauseRun(ctx context.Context, runID string) error {
	run, err := s.runDAO.Load(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	if run.GetState() != execution.StateRunning {
		return fmt.Errorf("run %s is not in running state", runID)
	}

	run.SetState(execution.StatePaused)
	return s.runDAO.Save(ctx, run)
}

// ResumeRun resumes a paused run
func (s *Service) ResumeRun(ctx context.Context, runID string) error {
	run, err := s.runDAO.Load(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("run %s not found", runID)
	}

	if run.GetState() != execution.StatePaused {
		return fmt.Errorf("run %s is not in paused state", runID)
	}

	run.SetState(execution.StateRunning)
	return s.runDAO.Save(ctx, run)
	// The scheduler resumes allocation on the next pass.
}

// processMessage handles a single step execution message
func (s *Service) processMessage(ctx context.Context, message messaging.Message[execution.Execution]) (err error) {
	anExecution := message.T()

	run, err := s.GetRun(ctx, anExecution.RunID)
	if err != nil {
		return message.Nack(err)
	}

	// A paused run holds its scheduled steps; requeue for later.
	if run.GetState() == execution.StatePaused {
		return message.Nack(fmt.Errorf("run is paused"))
	}

	// Steps queued before a cancel request never start.
	if run.IsCancelRequested() {
		anExecution.Cancel("run cancelled")
		if err := s.executionDAO.Save(ctx, anExecution); err != nil {
			return message.Nack(err)
		}
		if inRun := run.LookupExecution(anExecution.JobID); inRun != nil {
			inRun.Merge(anExecution)
			if err := s.runDAO.Save(ctx, run); err != nil {
				return message.Nack(err)
			}
		}
		return message.Ack()
	}

	job := run.LookupJob(anExecution.JobID)
	if job == nil {
		return message.Nack(fmt.Errorf("job %s not found in pipeline", anExecution.JobID))
	}

	// Manual gates hold the step until a decision is recorded.
	if job.IsGate() {
		if done, gErr := s.handleGate(ctx, run, job, anExecution); done || gErr != nil {
			if gErr != nil {
				return message.Nack(gErr)
			}
			return message.Ack()
		}
	}

	anExecution.Start()
	if err := s.executionDAO.Save(ctx, anExecution); err != nil {
		return message.Nack(err)
	}

	// Make the run and execution reachable from within action services.
	execCtx := context.WithValue(ctx, execution.RunKey, run)
	execCtx = context.WithValue(execCtx, execution.ExecutionKey, anExecution)

	err = s.executor.Execute(execCtx, anExecution, run)

	if err != nil {
		retryCfg := job.Retry
		shouldRetry, delay := s.shouldRetry(retryCfg, anExecution.Attempts)
		if shouldRetry {
			anExecution.Attempts++
			runAt := time.Now().Add(delay)
			anExecution.RunAfter = &runAt
			anExecution.State = execution.JobStateScheduled
			if daoErr := s.executionDAO.Save(ctx, anExecution); daoErr != nil {
				return message.Nack(fmt.Errorf("error %w and failed to save execution: %v", err, daoErr))
			}

			// Keep the copy embedded in the run stack up to date so the
			// scheduler observes RunAfter/Attempts and does not republish
			// the same step in a tight loop.
			if inRun := run.LookupExecution(anExecution.JobID); inRun != nil {
				inRun.RunAfter = anExecution.RunAfter
				inRun.Attempts = anExecution.Attempts
				inRun.State = anExecution.State
				inRun.Error = err.Error()
			}
			_ = s.runDAO.Save(ctx, run)
			return message.Ack()
		}

		// Out of retries; mark as failed.
		anExecution.Fail(err)
		if daoErr := s.executionDAO.Save(ctx, anExecution); daoErr != nil {
			return message.Nack(fmt.Errorf("encounter error: %w, and failed to save execution: %v", err, daoErr))
		}

		// Propagate the failure into the run so that the scheduler can act
		// on it: fail-fast teardown for matrix groups, failure() conditions
		// for dependents and eventually the final run state. Steps marked
		// continue-on-error keep their error on the execution but do not
		// contribute to the run error map.
		if inRun := run.LookupExecution(anExecution.JobID); inRun != nil {
			inRun.Merge(anExecution)
		}
		if !job.ContinueOnError {
			key := job.Namespace
			if key == "" {
				key = job.ID
			}
			run.Errors[key] = err.Error()
		}
		_ = s.runDAO.Save(ctx, run)

		message.Ack()
		return nil
	}

	if anExecution.State.IsWaitForApproval() {
		if err := s.executionDAO.Save(ctx, anExecution); err != nil {
			return message.Nack(err)
		}
		return message.Ack()
	}

	anExecution.Complete()

	if err := s.executionDAO.Save(ctx, anExecution); err != nil {
		return message.Nack(err)
	}
	if inRun := run.LookupExecution(anExecution.JobID); inRun != nil {
		inRun.Merge(anExecution)
		_ = s.runDAO.Save(ctx, run)
	}
	return message.Ack()
}

// handleGate implements manual approval for gated jobs. It returns done=true
// when the message was fully handled and the step must not execute yet.
func (s *Service) handleGate(ctx context.Context, run *execution.Run, job *graph.Job, anExecution *execution.Execution) (done bool, err error) {
	if anExecution.Approved == nil {
		anExecution.State = execution.JobStateWaitForApproval
		if err := s.executionDAO.Save(ctx, anExecution); err != nil {
			return false, err
		}
		if inRun := run.LookupExecution(anExecution.JobID); inRun != nil {
			inRun.State = execution.JobStateWaitForApproval
			_ = s.runDAO.Save(ctx, run)
		}
		if s.approval != nil {
			action := "gate"
			if job.Action != nil {
				action = job.Action.Service + "." + job.Action.Method
			}
			if err := s.approval.RequestApproval(ctx, &approval.Request{
				RunID:       run.ID,
				ExecutionID: anExecution.ID,
				Action:      action,
			}); err != nil {
				logging.Warnf("failed to request approval for %s: %v", anExecution.ID, err)
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
		if err := s.executionDAO.Save(ctx, anExecution); err != nil {
			return false, err
		}
		if inRun := run.LookupExecution(anExecution.JobID); inRun != nil {
			inRun.Merge(anExecution)
		}
		_ = s.runDAO.Save(ctx, run)
		return true, nil
	}
	// Approved; fall through to execution.
	return false, nil
}

// Shutdown stops the processor service
func (s *Service) Shutdown() {
	close(s.shutdownCh)
	for _, worker := range s.workers {
		worker.cancelFn()
	}
	s.workerWg.Wait()
}
