package artifact

import (
	"context"
	"fmt"
	"time"
)

// UploadInput declares which workspace paths become the artifact.
type UploadInput struct {
	Name  string   `json:"name" required:"true" description:"artifact name, unique within the run"`
	Paths []string `json:"paths" required:"true" description:"workspace locations to capture"`
	RunID string   `json:"runId,omitempty" description:"overrides the ambient run id"`
}

// UploadOutput echoes the stored metadata.
type UploadOutput struct {
	Name      string    `json:"name"`
	RunID     string    `json:"runId"`
	Size      int64     `json:"size"`
	Digest    string    `json:"digest"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"createdAt"`
}

// Upload captures the declared paths into the run's artifact store.
func (s *Service) Upload(ctx context.Context, input *UploadInput, output *UploadOutput) error {
	if input.Name == "" {
		return fmt.Errorf("artifact name is required")
	}
	if len(input.Paths) == 0 {
		return fmt.Errorf("at least one path is required")
	}
	id := runID(ctx, input.RunID)
	if id == "" {
		return fmt.Errorf("run id is required outside of a run context")
	}
	metadata, err := s.store.Save(ctx, id, input.Name, input.Paths)
	if err != nil {
		return err
	}
	output.Name = metadata.Name
	output.RunID = metadata.RunID
	output.Size = metadata.Size
	output.Digest = metadata.Digest
	output.Files = metadata.Files
	output.CreatedAt = metadata.CreatedAt
	return nil
}
