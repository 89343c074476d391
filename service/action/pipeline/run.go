package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/types"
	"github.com/gantryci/gantry/runtime/execution"
)

type RunInput struct {
	ParentLocation string                 `json:"parentLocation,omitempty"`
	Location       string                 `json:"location,omitempty"`
	Source         []byte                 `json:"source,omitempty"`
	Context        map[string]interface{} `json:"parameters,omitempty"`
	Pipeline       *model.Pipeline        `json:"pipeline,omitempty"`
	IgnoreError    bool                   `json:"ignoreError,omitempty"`
	Async          bool                   `json:"async,omitempty"`
	WaitTimeInSec  int                    `json:"waitTimeInSec,omitempty"`
}

type RunOutput struct {
	RunID  string
	Output map[string]interface{}
	Errors map[string]string
	State  string
}

func (i *RunInput) Init(ctx context.Context) {
	// A relative location resolves against the calling pipeline's location.
	if url.IsRelative(i.Location) && i.ParentLocation != "" {
		parent, _ := url.Split(i.ParentLocation, file.Scheme)
		candidate := url.Join(parent, i.Location)
		fs := afs.New()
		if ok, _ := fs.Exists(ctx, candidate); ok {
			i.Location = candidate
		}
	}
	if i.WaitTimeInSec == 0 && !i.Async {
		i.WaitTimeInSec = 300
	}
}

func (i *RunInput) Validate(ctx context.Context) error {
	if i.Pipeline != nil {
		return nil
	}
	if i.Location == "" && len(i.Source) == 0 {
		return fmt.Errorf("location is required")
	}
	return nil
}

// run starts a child pipeline and, unless async, blocks until it finishes.
func (s *Service) run(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*RunInput)
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
	output, ok := out.(*RunOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	output.RunID = run.ID
	output.State = run.GetState()
	if input.Async {
		return nil
	}

	waitInput := &WaitInput{RunID: run.ID, TimeoutInMs: input.WaitTimeInSec * 1000}
	waitOutput := &WaitOutput{}
	if err := s.wait(ctx, waitInput, waitOutput); err != nil {
		return err
	}
	if waitOutput.State == execution.StateFailed && !input.IgnoreError {
		errorInfo, _ := json.Marshal(waitOutput.Errors)
		return fmt.Errorf("run %v failed: %s", run.ID, errorInfo)
	}
	output.Output = waitOutput.Output
	output.Errors = waitOutput.Errors
	output.State = waitOutput.State
	return nil
}
