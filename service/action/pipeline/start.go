package pipeline

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/types"
)

type StartInput struct {
	ParentLocation string                 `json:"parentLocation,omitempty"`
	Location       string                 `json:"location,omitempty"`
	Source         []byte                 `json:"source,omitempty"`
	Context        map[string]interface{} `json:"parameters,omitempty"`
	Pipeline       *model.Pipeline        `json:"pipeline,omitempty"`
}

type StartOutput struct {
	RunID string
	State string
}

func (i *StartInput) Init(ctx context.Context) {
	if url.IsRelative(i.Location) && i.ParentLocation != "" {
		parent, _ := url.Split(i.ParentLocation, file.Scheme)
		candidate := url.Join(parent, i.Location)
		fs := afs.New()
		if ok, _ := fs.Exists(ctx, candidate); ok {
			i.Location = candidate
		}
	}
}

func (i *StartInput) Validate(ctx context.Context) error {
	if i.Pipeline != nil {
		return nil
	}
	if i.Location == "" && len(i.Source) == 0 {
		return fmt.Errorf("location is required")
	}
	return nil
}

// start fires a child pipeline without waiting for it.
func (s *Service) start(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*StartInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	input.Init(ctx)
	if err := input.Validate(ctx); err != nil {
		return err
	}
	if err := s.ensurePipeline(ctx, input.Location, input.Source, &input.Pipeline); err != nil {
		return err
	}
	run, err := s.processor.StartRun(ctx, input.Pipeline, input.Context)
	if err != nil {
		return err
	}
	output, ok := out.(*StartOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	output.RunID = run.ID
	output.State = run.GetState()
	return nil
}
