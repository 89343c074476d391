package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gantryci/gantry/extension"
	"github.com/gantryci/gantry/internal/logging"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/policy"
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/event"
	"github.com/gantryci/gantry/tracing"
	"github.com/viant/structology/conv"
)

// Listener is invoked once a step action completes (regardless of whether it
// returned an error or not). Implementations can log, collect metrics or
// perform any other side-effects they require.
//
// For convenience the listener is defined as a function type rather than an
// interface; users can therefore pass a plain function literal when
// customising the executor.
type Listener func(job *graph.Job, input, output interface{})

// StdoutListener serialises the job specification, input and output into JSON
// and prints them to standard output. Errors from json.Marshal are ignored on
// purpose as they indicate non-serialisable values the caller would not have
// had access to either way.
func StdoutListener(job *graph.Job, input, output interface{}) {
	if job == nil {
		return
	}
	spec, _ := json.Marshal(job)
	fmt.Println(string(spec))
	if job.Action == nil {
		return
	}
	if input != nil {
		in, _ := json.Marshal(input)
		fmt.Println(string(in))
	}

	if output != nil {
		out, _ := json.Marshal(output)
		fmt.Println(string(out))
	}
}

// Option is used to customise the executor instance.
type Option func(*service)

// WithListener overrides the listener invoked after every executed step.
// Passing nil disables the callback entirely.
func WithListener(l Listener) Option {
	return func(s *service) {
		s.listener = l
	}
}

// Service represents a step executor.
type Service interface {
	Execute(ctx context.Context, execution *execution.Execution, run *execution.Run) error
}

// service is the concrete implementation of Service.
type service struct {
	actions   *extension.Actions
	converter *conv.Converter
	listener  Listener
}

// Execute executes a single step.
func (s *service) Execute(ctx context.Context, anExecution *execution.Execution, run *execution.Run) error {
	job := run.LookupJob(anExecution.JobID)
	if job == nil {
		return fmt.Errorf("job %s not found in pipeline: %w", anExecution.JobID, ErrJobNotFound)
	}

	// Execute the step action if defined.
	if err := s.execute(ctx, anExecution, run, job); err != nil {
		return err
	}

	// Publish execution event if an event service is attached to the context.
	if value := ctx.Value(execution.EventKey); value != nil {
		service := value.(*event.Service)
		publisher, err := event.PublisherOf[*execution.Execution](service)
		if err == nil {
			eCtx := anExecution.Context("executed", job)
			anEvent := event.NewEvent[*execution.Execution](eCtx, anExecution)
			if err = publisher.Publish(ctx, anEvent); err != nil {
				logging.Warnf("failed to publish step execution event: %v", err)
			}
		}
	}

	return nil
}

func (s *service) execute(ctx context.Context, anExecution *execution.Execution, run *execution.Run, job *graph.Job) (err error) {
	action := job.Action
	if action == nil {
		// Grouping jobs carry no action of their own.
		action = &graph.Action{Service: "nop", Method: "nop"}
	}

	actionService := s.actions.Lookup(action.Service)
	if actionService == nil {
		return fmt.Errorf("service %v not found", action.Service)
	}
	if action.Method == "" {
		return fmt.Errorf("method not found for service %v", action.Service)
	}

	method, err := actionService.Method(action.Method)
	if err != nil {
		return fmt.Errorf("failed to find method %v for service %v: %w", action.Method, action.Service, err)
	}

	ctx, span := tracing.StartSpan(ctx, "executor.execute", "INTERNAL")
	span.WithAttributes(map[string]string{
		"job.id":        job.ID,
		"action.service": action.Service,
		"action.method": action.Method,
	})
	defer func() { tracing.EndSpan(span, err) }()

	if job.Timeout != "" {
		if timeout, tErr := time.ParseDuration(job.Timeout); tErr == nil && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	// Prepare a step-scoped session: execution data shadows the run state,
	// matrix legs expose their combination under the matrix key.
	session := run.Session.JobSession(anExecution.Data,
		execution.WithConverter(s.converter),
		execution.WithImports(run.Pipeline.Imports...),
		execution.WithTypes(s.actions.Types()))
	if len(anExecution.Combination) > 0 {
		session.Set("matrix", anExecution.Combination)
	}

	if err = session.ApplyParameters(job.Env); err != nil {
		return err
	}

	signature := actionService.Methods().Lookup(action.Method)

	output, err := session.TypedValue(signature.Output, map[string]interface{}{})
	if err != nil {
		return err
	}

	stepInput := action.Input
	if stepInput, err = session.Expand(action.Input); err != nil {
		return err
	}

	input, err := session.TypedValue(signature.Input, stepInput)
	anExecution.Input = input
	if err != nil {
		return err
	}

	if err = s.checkPolicy(ctx, run, action, stepInput); err != nil {
		return err
	}

	// Invoke the action method.
	if err = method(ctx, input, output); err != nil {
		return err
	}

	// Call the listener (if any).
	if s.listener != nil {
		s.listener(job, input, output)
	}

	anExecution.Output = output
	return nil
}

// checkPolicy enforces the run's execution policy, if any. The context policy
// wins over the one persisted with the run since only the former can carry an
// AskFunc.
func (s *service) checkPolicy(ctx context.Context, run *execution.Run, action *graph.Action, expandedInput interface{}) error {
	p := policy.FromContext(ctx)
	if p == nil {
		p = policy.FromConfig(run.Policy)
	}
	if p == nil {
		return nil
	}

	name := action.Service + "." + action.Method
	if !p.IsAllowed(name) {
		return fmt.Errorf("action %s: %w", name, ErrActionBlocked)
	}

	switch p.Mode {
	case policy.ModeDeny:
		return fmt.Errorf("action %s: %w", name, ErrActionBlocked)
	case policy.ModeAsk:
		if p.Ask == nil {
			return nil
		}
		args, _ := expandedInput.(map[string]interface{})
		if !p.Ask(ctx, name, args, p) {
			return fmt.Errorf("action %s: %w", name, ErrActionRejected)
		}
	}
	return nil
}

// NewService creates a new executor service instance. Callers that do not
// require customisation can ignore the variadic options argument.
func NewService(actions *extension.Actions, opts ...Option) Service {
	options := conv.DefaultOptions()
	options.ClonePointerData = true
	options.IgnoreUnmapped = true
	options.AccessUnexported = true

	s := &service{
		actions:   actions,
		converter: conv.NewConverter(options),
	}

	for _, o := range opts {
		o(s)
	}

	return s
}
