package exec

import (
	"context"
	"reflect"
	"strings"

	"github.com/gantryci/gantry/model/types"
)

const Name = "system/exec"

func (s *Service) Name() string {
	return Name
}

func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name: "execute",
			Description: `Executes one or more shell commands on the step's runner.
Each entry in the commands array is started as an independent shell invocation,
so options and arguments for a single command belong in the same string.
Commands on the same runner share a session, so a "cd" in one command affects
the next. Examples:
• Run a single command
  "commands": ["pytest --junitxml=results.xml"]
• Execute several commands sequentially
  "commands": [
     "python -m pip install --upgrade pip",
     "pip install -e .[dev]"
  ]`,
			Input:  reflect.TypeOf(&Input{}),
			Output: reflect.TypeOf(&Output{}),
		}}
}

func (s *Service) execute(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*Input)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*Output)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Execute(ctx, input, output)
}

// Method returns an executable method by name.
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "execute":
		return s.execute, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}
