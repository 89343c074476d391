// Package pipeline exposes child pipeline runs as an action service, so a
// step can trigger and await another pipeline.
package pipeline

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gantryci/gantry/model"
	"github.com/gantryci/gantry/model/types"
	"github.com/gantryci/gantry/runtime/execution"
	"github.com/gantryci/gantry/service/dao"
	pipelinedao "github.com/gantryci/gantry/service/dao/pipeline"
	"github.com/gantryci/gantry/service/processor"
)

const name = "pipeline"

// Service runs child pipelines through the engine's processor.
type Service struct {
	processor   *processor.Service
	pipelineDAO *pipelinedao.Service
	runDAO      dao.Service[string, execution.Run]
}

// New creates a pipeline action service.
func New(processor *processor.Service, pipelineDAO *pipelinedao.Service, runDAO dao.Service[string, execution.Run]) *Service {
	return &Service{
		processor:   processor,
		pipelineDAO: pipelineDAO,
		runDAO:      runDAO,
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:        "run",
			Description: "Runs a pipeline and, unless async, waits for it to finish; returns run ID, output, errors and state.",
			Input:       reflect.TypeOf(&RunInput{}),
			Output:      reflect.TypeOf(&RunOutput{}),
		},
		{
			Name:        "start",
			Description: "Starts a pipeline run without waiting and returns its run ID.",
			Input:       reflect.TypeOf(&StartInput{}),
			Output:      reflect.TypeOf(&StartOutput{}),
		},
		{
			Name:        "status",
			Description: "Reports the current state and session output of a run.",
			Input:       reflect.TypeOf(&StatusInput{}),
			Output:      reflect.TypeOf(&StatusOutput{}),
		},
		{
			Name:        "wait",
			Description: "Polls a run until it reaches a terminal state or the timeout elapses.",
			Input:       reflect.TypeOf(&WaitInput{}),
			Output:      reflect.TypeOf(&WaitOutput{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch name {
	case "run":
		return s.run, nil
	case "start":
		return s.start, nil
	case "status":
		return s.status, nil
	case "wait":
		return s.wait, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

// ensurePipeline resolves the pipeline definition from inline source or a
// location URL when the caller did not pass one directly.
func (s *Service) ensurePipeline(ctx context.Context, location string, source []byte, pipeline **model.Pipeline) error {
	if *pipeline != nil {
		return nil
	}
	var resolved *model.Pipeline
	var err error
	if len(source) > 0 {
		resolved, err = s.pipelineDAO.DecodeYAML(source)
	} else {
		resolved, err = s.pipelineDAO.Load(ctx, location)
	}
	if err != nil {
		return err
	}
	if resolved.Jobs == nil {
		return fmt.Errorf("pipeline %v has no %v", location, s.pipelineDAO.RootNodeName())
	}
	*pipeline = resolved
	return nil
}
