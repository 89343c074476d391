// Package processor hosts the workers that execute individual step
// executions. Every worker consumes items from the queue owned by the
// scheduler and updates the execution state so that the scheduler can decide
// what to run next.
package processor
