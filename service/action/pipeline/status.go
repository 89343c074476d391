package pipeline

import (
	"context"
	"fmt"

	"github.com/gantryci/gantry/model/types"
)

type StatusInput struct {
	RunID string `json:"runID,omitempty"`
}

func (i *StatusInput) Validate(ctx context.Context) error {
	if i.RunID == "" {
		return fmt.Errorf("runID is required")
	}
	return nil
}

type StatusOutput struct {
	State  string
	Output map[string]interface{}
	Errors map[string]string
}

// status reports where a run currently stands.
func (s *Service) status(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*StatusInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	if err := input.Validate(ctx); err != nil {
		return err
	}

	run, err := s.runDAO.Load(ctx, input.RunID)
	if err != nil {
		return err
	}
	output, ok := out.(*StatusOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	output.State = run.GetState()
	output.Output = run.Session.GetAll()
	output.Errors = run.Errors
	return nil
}
