// Package executor dispatches step executions dequeued by the processor to
// the action services registered with the engine. It is effectively a glue
// layer between the pipeline model and the action implementations.
package executor
