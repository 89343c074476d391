// Package scheduler advances runs through their execution stacks. A polling
// loop inspects every running run, resolves job needs, expands matrix
// strategies into legs, evaluates conditions and publishes leaf steps to the
// processor queue. It is the only component that transitions pending
// executions; the processor only runs what the scheduler dispatched.
package scheduler
