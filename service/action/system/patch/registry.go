package patch

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/gantryci/gantry/model/types"
)

// Name of the system/patch action service.
const Name = "system/patch"

// Service exposes transactional file patching as an action service. A session
// is created lazily on the first apply call and stays open for subsequent
// applies until commit or rollback.
type Service struct {
	mu      sync.Mutex
	session *Session
}

// New creates the patch service instance.
func New() *Service { return &Service{} }

// Name returns service identifier.
func (s *Service) Name() string { return Name }

// Methods returns service method catalogue.
func (s *Service) Methods() types.Signatures {
	return []types.Signature{
		{
			Name:        "apply",
			Description: "Applies a patch (unified diff or '*** Begin Patch' envelope) to the workspace within the current session (auto-created on first use).",
			Input:       reflect.TypeOf(&ApplyInput{}),
			Output:      reflect.TypeOf(&ApplyOutput{}),
		},
		{
			Name:        "diff",
			Description: "Generates a unified diff (and statistics) from two text blobs.",
			Input:       reflect.TypeOf(&DiffInput{}),
			Output:      reflect.TypeOf(&DiffOutput{}),
		},
		{
			Name:        "changes",
			Description: "Lists the uncommitted changes tracked by the current patch session.",
			Input:       reflect.TypeOf(&EmptyInput{}),
			Output:      reflect.TypeOf(&ChangesOutput{}),
		},
		{
			Name:        "commit",
			Description: "Commits the current patch session, discarding rollback information.",
			Input:       reflect.TypeOf(&EmptyInput{}),
			Output:      reflect.TypeOf(&EmptyOutput{}),
		},
		{
			Name:        "rollback",
			Description: "Rolls back all pending changes in the current patch session and clears the session.",
			Input:       reflect.TypeOf(&EmptyInput{}),
			Output:      reflect.TypeOf(&EmptyOutput{}),
		},
	}
}

// Method maps method names to executable handlers.
func (s *Service) Method(name string) (types.Executable, error) {
	switch strings.ToLower(name) {
	case "apply":
		return s.apply, nil
	case "diff":
		return s.diff, nil
	case "changes":
		return s.changes, nil
	case "commit":
		return s.commit, nil
	case "rollback":
		return s.rollback, nil
	default:
		return nil, types.NewMethodNotFoundError(name)
	}
}

// ApplyInput is the payload for Service.apply
type ApplyInput struct {
	// Patch is either a standard unified diff, for example:
	//
	//     --- a/path/to/file.txt
	//     +++ b/path/to/file.txt
	//     @@ -10,2 +10,3 @@
	//     -old line
	//     +new line
	//
	// or a '*** Begin Patch' envelope with Add/Update/Delete File sections.
	// Multi-file patches are accepted in both formats.
	Patch string `json:"patch" description:"Patch text to apply (unified diff or '*** Begin Patch' envelope)"`
}

// ApplyOutput summarises the changes applied.
type ApplyOutput struct {
	Stats DiffStats `json:"stats,omitempty"`
}

// DiffInput is the payload for Service.diff
type DiffInput struct {
	OldContent   string `json:"old" description:"Original file content"`
	NewContent   string `json:"new" description:"Updated file content"`
	Path         string `json:"path,omitempty" description:"Display path for diff headers"`
	ContextLines int    `json:"contextLines,omitempty" description:"Number of context lines to include in diff (default 3)"`
}

// DiffOutput holds the generated diff and its statistics.
type DiffOutput struct {
	Patch string    `json:"patch,omitempty"`
	Stats DiffStats `json:"stats,omitempty"`
}

// ChangesOutput lists uncommitted session changes.
type ChangesOutput struct {
	Changes []Change `json:"changes,omitempty"`
}

// EmptyInput/Output used by changes/commit/rollback methods.
type EmptyInput struct{}
type EmptyOutput struct{}

func (s *Service) apply(ctx context.Context, in, out interface{}) error {
	input, ok := in.(*ApplyInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*ApplyOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}

	s.mu.Lock()
	if s.session == nil {
		var err error
		s.session, err = NewSession()
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}
	sess := s.session
	s.mu.Unlock()

	if err := sess.ApplyPatch(ctx, input.Patch); err != nil {
		_ = sess.Rollback(ctx)
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
		return err
	}

	output.Stats = patchStats(input.Patch)
	// session remains open for further apply calls until commit/rollback
	return nil
}

func (s *Service) changes(ctx context.Context, in, out interface{}) error {
	if _, ok := in.(*EmptyInput); !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*ChangesOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}

	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		output.Changes = []Change{}
		return nil
	}
	changes, err := sess.Snapshot(ctx)
	if err != nil {
		return err
	}
	output.Changes = changes
	return nil
}

// commit finalises the active session and clears it.
func (s *Service) commit(ctx context.Context, in, out interface{}) error {
	if _, ok := in.(*EmptyInput); !ok {
		return types.NewInvalidInputError(in)
	}
	if _, ok := out.(*EmptyOutput); !ok {
		return types.NewInvalidOutputError(out)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Commit(ctx)
	s.session = nil
	return err
}

// rollback aborts the active session and clears it.
func (s *Service) rollback(ctx context.Context, in, out interface{}) error {
	if _, ok := in.(*EmptyInput); !ok {
		return types.NewInvalidInputError(in)
	}
	if _, ok := out.(*EmptyOutput); !ok {
		return types.NewInvalidOutputError(out)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil
	}
	err := s.session.Rollback(ctx)
	s.session = nil
	return err
}

func (s *Service) diff(_ context.Context, in, out interface{}) error {
	input, ok := in.(*DiffInput)
	if !ok {
		return types.NewInvalidInputError(in)
	}
	output, ok := out.(*DiffOutput)
	if !ok {
		return types.NewInvalidOutputError(out)
	}

	patch, stats, err := GenerateDiff([]byte(input.OldContent), []byte(input.NewContent), input.Path, input.ContextLines)
	if err != nil {
		return err
	}
	output.Patch = patch
	output.Stats = stats
	return nil
}

// patchStats extracts basic statistics from patch text.
func patchStats(p string) DiffStats {
	stats := DiffStats{}
	for _, l := range strings.Split(p, "\n") {
		switch {
		case strings.HasPrefix(l, "+") && !strings.HasPrefix(l, "+++"):
			stats.Added++
		case strings.HasPrefix(l, "-") && !strings.HasPrefix(l, "---"):
			stats.Removed++
		}
	}
	return stats
}
