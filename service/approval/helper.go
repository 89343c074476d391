package approval

import (
	"context"
	"fmt"
	"time"
)

// DecisionFunc decides what to do with a pending request.
// Return (true,  "") to approve
//
//	(false, "…") to reject with reason.
type DecisionFunc func(r *Request) (approved bool, reason string)

// AutoDecider starts a goroutine that polls ListPending and applies fn to
// every request.  It returns stop() – call it (or cancel ctx) to exit.
func AutoDecider(ctx context.Context,
	svc Service,
	fn DecisionFunc,
	interval time.Duration) (stop func()) {

	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				reqs, _ := svc.ListPending(ctx)
				for _, r := range reqs {
					ok, reason := fn(r)
					_, _ = svc.Decide(ctx, r.ID, ok, reason)
				}
			}
		}
	}()
	return func() { close(done) }
}

// AutoApprove automatically approves all pending requests
func AutoApprove(ctx context.Context,
	svc Service,
	interval time.Duration) func() {
	return AutoDecider(ctx, svc,
		func(*Request) (bool, string) { return true, "" }, interval)
}

// AutoReject automatically rejects all pending requests with the given reason
func AutoReject(ctx context.Context,
	svc Service,
	reason string,
	interval time.Duration) func() {
	return AutoDecider(ctx, svc,
		func(*Request) (bool, string) { return false, reason }, interval)
}

// AutoExpire rejects pending requests whose ExpiresAt deadline has passed;
// requests without a deadline are left pending. It returns stop().
func AutoExpire(ctx context.Context,
	svc Service,
	reason string,
	interval time.Duration) func() {

	if interval <= 0 {
		interval = 20 * time.Millisecond
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				reqs, _ := svc.ListPending(ctx)
				for _, r := range reqs {
					if r.ExpiresAt != nil && r.ExpiresAt.Before(time.Now()) {
						_, _ = svc.Decide(ctx, r.ID, false, reason)
					}
				}
			}
		}
	}()
	return func() { close(done) }
}

// PendingFilter narrows the requests returned by ListPending.
type PendingFilter func(r *Request) bool

// WithRunID keeps requests that belong to the given run.
func WithRunID(runID string) PendingFilter {
	return func(r *Request) bool { return r.RunID == runID }
}

// WithAction keeps requests for the given action.
func WithAction(action string) PendingFilter {
	return func(r *Request) bool { return r.Action == action }
}

// ListPending lists pending requests that match every supplied filter.
func ListPending(ctx context.Context, svc Service, filters ...PendingFilter) ([]*Request, error) {
	all, err := svc.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return all, nil
	}
	out := make([]*Request, 0, len(all))
outer:
	for _, r := range all {
		for _, keep := range filters {
			if !keep(r) {
				continue outer
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// WaitForDecision blocks until a decision for the given request ID is
// published on the service queue or the timeout expires. Events belonging to
// other requests are republished so concurrent waiters are not starved.
func WaitForDecision(ctx context.Context, svc Service, id string, timeout time.Duration) (*Decision, error) {
	queue := svc.Queue()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		msg, err := queue.Consume(waitCtx)
		if err != nil {
			return nil, fmt.Errorf("timed out waiting for decision %s: %w", id, err)
		}
		if msg == nil {
			continue
		}
		event := msg.T()
		_ = msg.Ack()
		if event.Topic == TopicDecisionCreated {
			if decision, ok := event.Data.(*Decision); ok && decision.ID == id {
				return decision, nil
			}
		}
		// Not ours; put it back.
		_ = queue.Publish(ctx, event)
	}
}
