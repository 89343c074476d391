package nop

import (
	"context"
	"reflect"

	"github.com/gantryci/gantry/model/types"
)

const name = "nop"

// Service is the default action for grouping jobs that only fan out to
// nested steps and have no work of their own.
type Service struct{}

type Input struct{}

type Output struct{}

// New creates a new nop service
func New() *Service {
	return &Service{}
}

// Name returns the service name
func (s *Service) Name() string {
	return name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:        "nop",
			Description: "Performs no operation and returns immediately.",
			Input:       reflect.TypeOf(&Input{}),
			Output:      reflect.TypeOf(&Output{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	return s.nop, nil
}

func (s *Service) nop(ctx context.Context, in, out interface{}) error {
	return nil
}
