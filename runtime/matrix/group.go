// Package matrix tracks groups of executions fanned out from a single job,
// either matrix legs expanded from a strategy or async nested steps. A group
// is the rendez-vous point the scheduler uses to decide when the parent may
// finish, whether remaining legs should be cancelled and how many legs may
// run at once.
package matrix

import (
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/clock"
)

// Group tracks how many legs were expected and how many have already
// reported a terminal state.
type Group struct {
	ID           string
	ParentRunID  string
	ParentExecID string

	Expected int

	// FailFast cancels the group's pending legs once one leg fails.
	FailFast bool
	// MaxParallel caps concurrently running legs; zero means no cap.
	MaxParallel int

	mu        sync.Mutex
	running   int
	completed int
	failed    int
	cancelled int

	Outputs []interface{}

	DoneAt *time.Time
}

// Failed returns true when at least one leg reported failure.
func (g *Group) Failed() bool {
	g.mu.Lock()
	f := g.failed > 0
	g.mu.Unlock()
	return f
}

// Cancelled returns true when at least one leg was cancelled.
func (g *Group) Cancelled() bool {
	g.mu.Lock()
	c := g.cancelled > 0
	g.mu.Unlock()
	return c
}

// AggregateOutputs returns the collected leg outputs.
func (g *Group) AggregateOutputs() []interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]interface{}(nil), g.Outputs...)
}

// MarkDone registers a terminal leg and returns true when every expected
// leg has finished. Cancelled legs count towards the rendez-vous so a
// fail-fast teardown still completes the group.
func (g *Group) MarkDone(failed, cancelled bool, output interface{}) (groupComplete bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if failed {
		g.failed++
	}
	if cancelled {
		g.cancelled++
	}
	if output != nil {
		g.Outputs = append(g.Outputs, output)
	}
	g.completed++

	if g.completed >= g.Expected && g.Expected > 0 && g.DoneAt == nil {
		now := clock.Now()
		g.DoneAt = &now
		return true
	}
	return false
}

// ShouldCancelRemaining reports whether pending legs ought to be torn down:
// the group is fail-fast, a leg has failed and the rendez-vous is still open.
func (g *Group) ShouldCancelRemaining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.FailFast && g.failed > 0 && g.DoneAt == nil
}

// TryAcquire reserves a running slot for a leg. It returns false when the
// MaxParallel cap is reached; the scheduler then leaves the leg pending and
// retries on a later pass.
func (g *Group) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.MaxParallel > 0 && g.running >= g.MaxParallel {
		return false
	}
	g.running++
	return true
}

// Release frees a running slot previously reserved with TryAcquire.
func (g *Group) Release() {
	g.mu.Lock()
	if g.running > 0 {
		g.running--
	}
	g.mu.Unlock()
}

// Running returns the number of currently reserved slots.
func (g *Group) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Counts returns the terminal leg counters (completed, failed, cancelled).
// Completed includes failed and cancelled legs.
func (g *Group) Counts() (completed, failed, cancelled int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completed, g.failed, g.cancelled
}

// Done returns whether the group has completed.
func (g *Group) Done() bool {
	g.mu.Lock()
	done := g.DoneAt != nil
	g.mu.Unlock()
	return done
}
