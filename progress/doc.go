// Package progress defines primitives for reporting and aggregating step
// counters of a pipeline run. It abstracts away the delivery mechanism so
// that callers consume updates uniformly whether they arrive via in-memory
// callbacks, queues or external observers.
package progress
