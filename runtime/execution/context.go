package execution

import (
	"context"
	"reflect"

	"github.com/gantryci/gantry/extension"
	"github.com/gantryci/gantry/model/graph"
	"github.com/gantryci/gantry/service/event"
)

// Context carries the run, the current execution and the engine services
// through action invocations.
type Context struct {
	run       *Run
	execution *Execution
	actions   *extension.Actions
	events    *event.Service
	job       *graph.Job
	context.Context
}

var RunKey = KeyOf[*Run]()
var ExecutionKey = KeyOf[*Execution]()
var actionsKey = KeyOf[*extension.Actions]()
var EventKey = KeyOf[*event.Service]()
var ContextKey = KeyOf[*Context]()
var JobKey = KeyOf[*graph.Job]()

// ExecutionContext returns a context bound to the provided run and execution.
func (c *Context) ExecutionContext(run *Run, execution *Execution, job *graph.Job) *Context {
	clone := *c
	clone.run = run
	clone.execution = execution
	clone.job = job
	return &clone
}

func (c *Context) Value(key any) any {
	switch key {
	case RunKey:
		return c.run
	case ExecutionKey:
		return c.execution
	case actionsKey:
		return c.actions
	case EventKey:
		return c.events
	case ContextKey:
		return c
	case JobKey:
		return c.job
	}
	return c.Context.Value(key)
}

// ContextValue returns the value of the provided type from the context.
func ContextValue[T any](ctx context.Context) T {
	key := KeyOf[T]()
	if value := ctx.Value(key); value != nil {
		return value.(T)
	}
	var t T
	return t
}

// KeyOf returns the reflect.Type of the provided type.
func KeyOf[T any]() reflect.Type {
	var a T
	return reflect.TypeOf(a)
}

func NewContext(ctx context.Context, actions *extension.Actions, service *event.Service) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{
		Context: ctx,
		actions: actions,
		events:  service,
	}
}
