package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/approval"
	"github.com/gantryci/gantry/service/dao"
	"github.com/gantryci/gantry/service/dao/store"
	"github.com/gantryci/gantry/service/messaging"
	qmem "github.com/gantryci/gantry/service/messaging/memory"
)

type service struct {
	executionDAO dao.Service[string, execution.Execution]

	// DAO-backed stores
	reqDAO dao.Service[string, approval.Request]
	decDAO dao.Service[string, approval.Decision]

	// fan-out queue
	events messaging.Queue[approval.Event]

	// owning run store (optional; only needed when the execution embedded in
	// the run's stack must be updated after an approval decision).
	runDAO dao.Service[string, execution.Run]

	// execution queue (optional; when attached a positive decision publishes
	// the execution straight back so the worker pool picks it up without
	// waiting for a scheduler pass).
	execQueue messaging.Queue[execution.Execution]
}

// key selectors – grab ID field
func reqKey(r *approval.Request) string  { return r.ID }
func decKey(d *approval.Decision) string { return d.ID }

func New(executionDAO dao.Service[string, execution.Execution], options ...Option) approval.Service {
	ret := &service{
		executionDAO: executionDAO,
		reqDAO:       store.NewMemoryStore[string, approval.Request](reqKey),
		decDAO:       store.NewMemoryStore[string, approval.Decision](decKey),
		events:       qmem.NewQueue[approval.Event](qmem.DefaultConfig()),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

/* ---------------- DAO-style operations -------------------------------- */

func (s *service) RequestApproval(ctx context.Context, r *approval.Request) error {
	if r == nil {
		return errors.New("invalid request")
	}

	// Ensure the request has a globally unique identifier. If the caller did
	// not specify one we fall back to ExecutionID (which is guaranteed to be
	// unique within a run); this keeps the function generic and protects
	// against silent drops caused by empty IDs.
	if r.ID == "" {
		switch {
		case r.ExecutionID != "":
			r.ID = r.ExecutionID
		case r.RunID != "":
			r.ID = fmt.Sprintf("%s/%d", r.RunID, time.Now().UnixNano())
		default:
			r.ID = fmt.Sprintf("anon-%d", time.Now().UnixNano())
		}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	// Idempotent save; overwrite any previous copy to handle re-submissions
	// gracefully.
	_ = s.reqDAO.Save(ctx, r)
	_ = s.events.Publish(ctx, &approval.Event{Topic: approval.TopicRequestCreated, Data: r})
	return nil
}

func (s *service) ListPending(ctx context.Context) ([]*approval.Request, error) {
	all, err := s.reqDAO.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]*approval.Request, 0, len(all))
	for _, r := range all {
		if d, _ := s.decDAO.Load(ctx, r.ID); d == nil {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

func (s *service) Decide(ctx context.Context, id string,
	ok bool, reason string) (*approval.Decision, error) {

	if id == "" {
		return nil, errors.New("empty id")
	}
	request, _ := s.reqDAO.Load(ctx, id)
	if request == nil {
		return nil, fmt.Errorf("request %s not found", id)
	}
	if d, _ := s.decDAO.Load(ctx, id); d != nil {
		return nil, fmt.Errorf("already decided")
	}

	// When the service has been initialised with an execution DAO and the
	// request is linked to a concrete execution, update the execution so the
	// scheduler can re-schedule or cancel it accordingly. The DAO is optional
	// because the approval service can be used standalone; in that case the
	// execution update step is silently skipped.
	if s.executionDAO != nil && request.ExecutionID != "" {
		anExecution, err := s.executionDAO.Load(ctx, request.ExecutionID)
		if err != nil {
			return nil, err
		}

		anExecution.Approved = &ok
		anExecution.ApprovalReason = reason
		if !ok {
			anExecution.Error = fmt.Sprintf("gate %s rejected: %s", request.Action, reason)
		} else {
			anExecution.Error = ""
		}
		// Reset the execution so it is re-dispatched; the worker pool then
		// consults the recorded decision.
		anExecution.State = execution.JobStatePending

		if err = s.executionDAO.Save(ctx, anExecution); err != nil {
			return nil, err
		}

		// Update the run's stack copy so the scheduler sees the change.
		if s.runDAO != nil && request.RunID != "" {
			if run, rErr := s.runDAO.Load(ctx, request.RunID); rErr == nil && run != nil {
				if ex := run.LookupExecution(anExecution.JobID); ex != nil {
					ex.Approved = anExecution.Approved
					ex.ApprovalReason = reason
					ex.State = execution.JobStatePending
					_ = s.runDAO.Save(ctx, run)
				}
			}
		}

		// Republish approved executions straight to the worker pool.
		if ok && s.execQueue != nil {
			_ = s.execQueue.Publish(ctx, anExecution)
		}
	}

	d := &approval.Decision{
		ID:        id,
		Approved:  ok,
		Reason:    reason,
		DecidedAt: time.Now(),
	}
	_ = s.decDAO.Save(ctx, d)
	_ = s.events.Publish(ctx, &approval.Event{Topic: approval.TopicDecisionCreated, Data: d})
	return d, nil
}

/* ---------------- Broker-style ---------------------------------------- */

func (s *service) Queue() messaging.Queue[approval.Event] { return s.events }

var _ approval.Service = (*service)(nil)
