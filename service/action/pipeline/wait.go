package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/gantryci/gantry/model/types"
	"github.com/gantryci/gantry/runtime/execution"
)

type WaitInput struct {
	RunID             string `json:"runID,omitempty"`
	TimeoutInMs       int    `json:"timeoutMs,omitempty"`
	PollFrequencyInMs int    `json:"pollFrequencyMs,omitempty"`
}

func (i *WaitInput) Init(ctx context.Context) {
	if i.PollFrequencyInMs == 0 {
		i.PollFrequencyInMs = 200
	}
	if i.TimeoutInMs == 0 {
		i.TimeoutInMs = 300000
	}
}

func (i *WaitInput) Validate(ctx context.Context) error {
	if i.RunID == "" {
		return fmt.Errorf("runID is required")
	}
	return nil
}

// WaitOutput is the terminal snapshot of a run.
type WaitOutput execution.RunOutput

// WaitForRun blocks until the run finishes or the timeout elapses.
func (s *Service) WaitForRun(ctx context.Context, id string, timeoutMs int) (*WaitOutput, error) {
	input := &WaitInput{RunID: id, TimeoutInMs: timeoutMs}
	input.Init(ctx)
	output := &WaitOutput{}
	return output, s.wait(ctx, input, output)
}

func isTerminal(state string) bool {
	switch state {
	case execution.StateCompleted, execution.StateFailed, execution.StateCancelled:
		return true
	}
	return false
}

// wait polls the run DAO until a terminal state or the timeout.
func (s *Service) wait(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*WaitInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	input.Init(ctx)
	if err := input.Validate(ctx); err != nil {
		return err
	}
	output, ok := out.(*WaitOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}

	pollFrequency := time.Millisecond * time.Duration(input.PollFrequencyInMs)
	var expiry time.Time
	if input.TimeoutInMs > 0 {
		expiry = time.Now().Add(time.Millisecond * time.Duration(input.TimeoutInMs))
	}

	// The run ID is always populated so the caller can correlate the result
	// even on timeout.
	output.RunID = input.RunID

	for {
		run, err := s.runDAO.Load(ctx, input.RunID)
		if err != nil {
			return err
		}
		if isTerminal(run.GetState()) {
			break
		}
		if !expiry.IsZero() && time.Now().After(expiry) {
			output.Timeout = true
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollFrequency):
		}
	}

	run, err := s.runDAO.Load(ctx, input.RunID)
	if err != nil {
		return err
	}
	output.State = run.GetState()
	output.Output = run.Session.GetAll()
	output.Errors = run.Errors
	finishedAt := run.FinishedAt
	if finishedAt == nil {
		now := time.Now()
		finishedAt = &now
	}
	output.TimeTaken = finishedAt.Sub(run.CreatedAt)
	return nil
}
