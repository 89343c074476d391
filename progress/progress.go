package progress

import (
	"context"
	"sync"
	"time"
)

// Delta is an incremental counter change emitted by the scheduler, executor
// or processor. Fields are signed so a change can increment or decrement.
type Delta struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
	Running   int
	Pending   int
}

// Progress keeps aggregated step counters for the root run and any nested
// pipeline runs it spawns. It is safe for concurrent use.
type Progress struct {
	// Identification, informative only, filled when the root run starts.
	RootRunID string
	Pipeline  string
	StartedAt time.Time

	// Counters, modified via Update.
	TotalSteps     int
	CompletedSteps int
	SkippedSteps   int
	FailedSteps    int
	RunningSteps   int
	PendingSteps   int

	sync.Mutex
	onChange func(Progress)
}

// Update applies the supplied delta. Safe to call from multiple goroutines.
// A registered onChange callback is invoked with a copy of the updated
// tracker outside the critical section, so the callback may perform slow
// operations without blocking engine internals.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.Lock()

	p.TotalSteps += d.Total
	p.CompletedSteps += d.Completed
	p.SkippedSteps += d.Skipped
	p.FailedSteps += d.Failed
	p.RunningSteps += d.Running
	p.PendingSteps += d.Pending

	// Copy while holding the lock so the callback never sees partially
	// updated counters.
	snapshot := *p
	cb := p.onChange

	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return *p
}

// OnChange registers a callback invoked after every Update. Passing nil
// disables it. Only one callback can be active at a time.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a tracker, embeds it in a derived context and
// returns both. The onChange callback is optional.
func WithNewTracker(ctx context.Context, rootRunID, pipeline string, onChange func(Progress)) (context.Context, *Progress) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Progress{
		RootRunID: rootRunID,
		Pipeline:  pipeline,
		StartedAt: time.Now(),
		onChange:  onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the tracker from ctx; the second return value is
// false when the context carries none.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// GetSnapshot combines FromContext and Snapshot.
func GetSnapshot(ctx context.Context) (Progress, bool) {
	if tr, ok := FromContext(ctx); ok {
		return tr.Snapshot(), true
	}
	return Progress{}, false
}

// UpdateCtx looks up the tracker in ctx and applies the delta when present.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
