// Package artifact exposes the run artifact store as step actions, so a
// pipeline can capture build outputs and later runs or steps can restore
// them.
package artifact

import (
	"context"
	"reflect"
	"strings"

	"github.com/gantryci/gantry/model/types"
	"github.com/gantryci/gantry/runtime/execution"
	store "github.com/gantryci/gantry/service/artifact"
	"github.com/viant/afs"
)

const name = "artifact"

// Service bridges step invocations to the artifact store.
type Service struct {
	store store.Store
	fs    afs.Service
}

// New creates a new artifact service over the supplied store.
func New(artifacts store.Store) *Service {
	return &Service{store: artifacts, fs: afs.New()}
}

// Name returns the service name
func (s *Service) Name() string {
	return name
}

// Methods returns the service methods
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name: "upload",
			Description: `Archives the declared workspace paths into the run's artifact store.
Only files under the listed paths are captured. Typically used with
"if: always()" so test results survive a failed build.`,
			Input:  reflect.TypeOf(&UploadInput{}),
			Output: reflect.TypeOf(&UploadOutput{}),
		},
		{
			Name:        "download",
			Description: "Restores a stored artifact's files into the destination location.",
			Input:       reflect.TypeOf(&DownloadInput{}),
			Output:      reflect.TypeOf(&DownloadOutput{}),
		},
		{
			Name:        "list",
			Description: "Lists artifact metadata recorded for a run.",
			Input:       reflect.TypeOf(&ListInput{}),
			Output:      reflect.TypeOf(&ListOutput{}),
		},
	}
}

// Method returns the specified method
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "upload":
		return s.upload, nil
	case "download":
		return s.download, nil
	case "list":
		return s.list, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

func (s *Service) upload(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*UploadInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*UploadOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Upload(ctx, input, output)
}

func (s *Service) download(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*DownloadInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*DownloadOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.Download(ctx, input, output)
}

func (s *Service) list(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*ListInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*ListOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}
	return s.List(ctx, input, output)
}

// runID prefers the explicit input value and falls back to the run bound to
// the action context.
func runID(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if run := execution.ContextValue[*execution.Run](ctx); run != nil {
		return run.ID
	}
	return ""
}
