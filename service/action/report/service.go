// Package report parses JUnit XML test results so pipelines can gate on
// test outcomes and publish readable summaries.
package report

import (
	"context"
	"reflect"
	"strings"

	"github.com/gantryci/gantry/model/types"
	"github.com/viant/afs"
)

const name = "report"

// Service exposes JUnit report parsing and summarizing as step actions.
type Service struct {
	fs afs.Service
}

// New creates a new report service
func New() *Service {
	return &Service{fs: afs.New()}
}

// Name returns the service name
func (s *Service) Name() string {
	return name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name: "parse",
			Description: `Reads a JUnit XML report (by URL or inline) and normalizes it into
suites, totals and failed cases. Set failOnError to fail the step when the
report contains failures or errors, e.g. after
"pytest -v --junitxml=python_junit.xml".`,
			Input:  reflect.TypeOf(&ParseInput{}),
			Output: reflect.TypeOf(&ParseOutput{}),
		},
		{
			Name:        "summarize",
			Description: "Renders a compact per-suite table with failed cases listed below.",
			Input:       reflect.TypeOf(&SummarizeInput{}),
			Output:      reflect.TypeOf(&SummarizeOutput{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "parse":
		return s.parse, nil
	case "summarize":
		return s.summarize, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func (s *Service) parse(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*ParseInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*ParseOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Parse(ctx, input, output)
}

func (s *Service) summarize(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*SummarizeInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*SummarizeOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Summarize(ctx, input, output)
}
