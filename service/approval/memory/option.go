package memory

import (
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/dao"
	"github.com/gantryci/gantry/service/messaging"
)

type Option func(*service)

// WithRunDAO allows the approval service to update the parent run when a
// decision is made. The scheduler then notices the changed execution state
// and dispatches it again.
func WithRunDAO(dao dao.Service[string, execution.Run]) Option {
	return func(s *service) { s.runDAO = dao }
}

// WithExecutionQueue attaches the execution queue so that the approval
// service can re-dispatch a step automatically after it has been approved.
// Once a positive decision is recorded the service publishes the execution
// back to the queue so that the worker pool can pick it up.
func WithExecutionQueue(q messaging.Queue[execution.Execution]) Option {
	return func(s *service) { s.execQueue = q }
}
