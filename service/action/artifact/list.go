package artifact

import (
	"context"
	"fmt"

	store "github.com/gantryci/gantry/service/artifact"
)

// ListInput selects the run whose artifacts to enumerate.
type ListInput struct {
	RunID string `json:"runId,omitempty" description:"overrides the ambient run id"`
}

// ListOutput carries the stored metadata.
type ListOutput struct {
	Artifacts []*store.Metadata `json:"artifacts,omitempty"`
}

// List enumerates artifact metadata recorded for the run.
func (s *Service) List(ctx context.Context, input *ListInput, output *ListOutput) error {
	id := runID(ctx, input.RunID)
	if id == "" {
		return fmt.Errorf("run id is required outside of a run context")
	}
	artifacts, err := s.store.List(ctx, id)
	if err != nil {
		return err
	}
	output.Artifacts = artifacts
	return nil
}
