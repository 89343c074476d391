package processor

import (
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/approval"
	"github.com/gantryci/gantry/service/dao"
	"github.com/gantryci/gantry/service/executor"
	"github.com/gantryci/gantry/service/messaging"
)

// Option customises the processor service.
type Option func(*Service)

// WithRunDAO sets the run store implementation
func WithRunDAO(runDAO dao.Service[string, execution.Run]) Option {
	return func(s *Service) {
		s.runDAO = runDAO
	}
}

// WithExecutionDAO sets the execution store implementation
func WithExecutionDAO(executionDAO dao.Service[string, execution.Execution]) Option {
	return func(s *Service) {
		s.executionDAO = executionDAO
	}
}

// WithMessageQueue sets the message queue implementation
func WithMessageQueue(queue messaging.Queue[execution.Execution]) Option {
	return func(s *Service) {
		s.queue = queue
	}
}

// WithExecutor sets the step executor for the service
func WithExecutor(executor executor.Service) Option {
	return func(s *Service) {
		s.executor = executor
	}
}

// WithApprovalService attaches the approval service so that gated jobs can
// file a pending request when they reach the worker pool.
func WithApprovalService(svc approval.Service) Option {
	return func(s *Service) {
		s.approval = svc
	}
}

// WithWorkers sets the number of worker goroutines
func WithWorkers(count int) Option {
	return func(s *Service) {
		s.config.WorkerCount = count
	}
}

// WithSessionListeners registers state listeners copied to every run session
// created by StartRun.
func WithSessionListeners(fns ...execution.StateListener) Option {
	return func(s *Service) {
		if len(fns) == 0 {
			return
		}
		s.sessListeners = append(s.sessListeners, fns...)
	}
}

// WithConditionListeners registers callbacks invoked after every if-condition
// evaluation.
func WithConditionListeners(fns ...execution.ConditionListener) Option {
	return func(s *Service) {
		if len(fns) == 0 {
			return
		}
		s.condListeners = append(s.condListeners, fns...)
	}
}

// WithConfig sets the configuration for the service
func WithConfig(config Config) Option {
	return func(s *Service) {
		s.config = config
	}
}
