// Package patch provides transactional file patching for pipeline steps.
//
// A Session tracks every mutation (Add, Update, Delete, Move) together with a
// per-invocation backup snapshot, so a failed step can roll the workspace back
// to its pre-session state. Patches are accepted in two formats: the
// "*** Begin Patch" envelope parsed by parser.go, and standard unified diffs
// as produced by `git diff` or `diff -u`.
package patch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	sgdiff "github.com/sourcegraph/go-diff/diff"
	"github.com/viant/afs"
)

// Action identifies a session mutation kind.
type Action string

const (
	Delete Action = "delete"
	Move   Action = "move"
	Update Action = "update"
	Add    Action = "add"
)

type rollbackEntry struct {
	action Action
	url    string // primary URL affected
	auxURL string // destination for move, otherwise ""
	backup string // snapshot URL holding the pre-mutation content
}

// Session applies file mutations through afs and remembers how to undo them.
// Each mutating call stores its own backup snapshot, so patching the same
// file several times in one session still rolls back to the original content.
type Session struct {
	ID        string
	fs        afs.Service
	rollbacks []rollbackEntry
	committed bool
	backupSeq int

	// uncommitted change tracking for Snapshot
	byCurrent map[string]*changeEntry
	byOrigin  map[string]*changeEntry
	changes   []*changeEntry
	order     []*changeEntry

	mu sync.Mutex
}

// NewSession creates a new patch session backed by the default afs service.
func NewSession() (*Session, error) {
	return &Session{
		ID:        uuid.New().String(),
		fs:        afs.New(),
		byCurrent: map[string]*changeEntry{},
		byOrigin:  map[string]*changeEntry{},
	}, nil
}

func (s *Session) assertActive() error {
	if s.committed {
		return errors.New("session already committed")
	}
	return nil
}

// backup stores one snapshot per invocation under a session-scoped URL.
func (s *Session) backup(ctx context.Context, URL string) (string, error) {
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return "", err
	}
	s.backupSeq++
	dst := fmt.Sprintf("mem://localhost/patch/%s/%d.bak", s.ID, s.backupSeq)
	if err := s.fs.Upload(ctx, dst, 0o644, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return dst, nil
}

// Add creates a new file; it fails when the target already exists.
func (s *Session) Add(ctx context.Context, URL string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	if ok, _ := s.fs.Exists(ctx, URL); ok {
		return fmt.Errorf("add: file %s already exists", URL)
	}
	if err := s.fs.Upload(ctx, URL, 0o644, bytes.NewReader(data)); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Add, url: URL})
	s.trackAdd(ctx, URL)
	return nil
}

// Update replaces the content of an existing file.
func (s *Session) Update(ctx context.Context, URL string, newData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	if ok, err := s.fs.Exists(ctx, URL); err != nil || !ok {
		return fmt.Errorf("update: %s does not exist", URL)
	}
	backup, err := s.backup(ctx, URL)
	if err != nil {
		return err
	}
	if err := s.fs.Upload(ctx, URL, 0o644, bytes.NewReader(newData)); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Update, url: URL, backup: backup})
	s.trackUpdate(ctx, URL, backup)
	return nil
}

// Delete removes an existing file.
func (s *Session) Delete(ctx context.Context, URL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	if ok, err := s.fs.Exists(ctx, URL); err != nil || !ok {
		return fmt.Errorf("delete: %s does not exist", URL)
	}
	backup, err := s.backup(ctx, URL)
	if err != nil {
		return err
	}
	if err := s.fs.Delete(ctx, URL); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Delete, url: URL, backup: backup})
	s.trackDelete(ctx, URL, backup)
	return nil
}

// Move renames a file.
func (s *Session) Move(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.assertActive(); err != nil {
		return err
	}
	if ok, err := s.fs.Exists(ctx, src); err != nil || !ok {
		return fmt.Errorf("move: %s does not exist", src)
	}
	if err := s.fs.Move(ctx, src, dst); err != nil {
		return err
	}
	s.rollbacks = append(s.rollbacks, rollbackEntry{action: Move, url: src, auxURL: dst})
	s.trackMove(src, dst)
	return nil
}

// Rollback undoes all session mutations in reverse order and clears the session.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.rollbacks) - 1; i >= 0; i-- {
		r := s.rollbacks[i]
		switch r.action {
		case Delete, Update:
			data, err := s.fs.DownloadWithURL(ctx, r.backup)
			if err != nil {
				return err
			}
			if err := s.fs.Upload(ctx, r.url, 0o644, bytes.NewReader(data)); err != nil {
				return err
			}
		case Move:
			if err := s.fs.Move(ctx, r.auxURL, r.url); err != nil {
				return err
			}
		case Add:
			if ok, _ := s.fs.Exists(ctx, r.url); ok {
				if err := s.fs.Delete(ctx, r.url); err != nil {
					return fmt.Errorf("rollback add: %w", err)
				}
			}
		}
	}
	s.discardBackups(ctx)
	s.reset()
	return nil
}

// Commit discards rollback information, making all session mutations final.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.committed {
		return nil
	}
	s.committed = true
	s.discardBackups(ctx)
	s.reset()
	return nil
}

func (s *Session) discardBackups(ctx context.Context) {
	for _, r := range s.rollbacks {
		if r.backup != "" {
			_ = s.fs.Delete(ctx, r.backup)
		}
	}
}

func (s *Session) reset() {
	s.rollbacks = nil
	s.byCurrent = map[string]*changeEntry{}
	s.byOrigin = map[string]*changeEntry{}
	s.changes = nil
	s.order = nil
}

// ApplyPatch applies patchText to the session. Both the "*** Begin Patch"
// envelope and standard unified-diff text are accepted.
func (s *Session) ApplyPatch(ctx context.Context, patchText string) error {
	if strings.HasPrefix(strings.TrimSpace(patchText), "*** Begin Patch") {
		return s.applyEnvelope(ctx, patchText)
	}
	return s.applyUnified(ctx, patchText)
}

// applyEnvelope applies a "*** Begin Patch" formatted patch.
func (s *Session) applyEnvelope(ctx context.Context, patchText string) error {
	hunks, err := Parse(patchText)
	if err != nil {
		return fmt.Errorf("parse patch: %w", err)
	}
	for _, hunk := range hunks {
		switch h := hunk.(type) {
		case AddFile:
			if err := s.Add(ctx, h.Path, []byte(h.Contents)); err != nil {
				return err
			}
		case DeleteFile:
			if err := s.Delete(ctx, h.Path); err != nil {
				return err
			}
		case UpdateFile:
			oldData, err := s.fs.DownloadWithURL(ctx, h.Path)
			if err != nil {
				return fmt.Errorf("update %s: %w", h.Path, err)
			}
			lines := s.applyUpdate(oldData, h)
			target := h.Path
			if h.MovePath != "" {
				if err := s.Move(ctx, h.Path, h.MovePath); err != nil {
					return err
				}
				target = h.MovePath
			}
			if err := s.Update(ctx, target, []byte(strings.Join(lines, "\n")+"\n")); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyUnified applies a standard unified-diff patch (---/+++ headers with
// @@ hunks). Multi-file patches are accepted.
func (s *Session) applyUnified(ctx context.Context, patchText string) error {
	mfd, err := sgdiff.ParseMultiFileDiff([]byte(patchText))
	if err != nil {
		return fmt.Errorf("parse patch: %w", err)
	}
	for _, fd := range mfd {
		orig := strings.TrimPrefix(fd.OrigName, "a/")
		newer := strings.TrimPrefix(fd.NewName, "b/")

		switch {
		case fd.NewName != "/dev/null" && fd.OrigName == "/dev/null":
			var buf bytes.Buffer
			if err := applyHunks(nil, fd.Hunks, &buf); err != nil {
				return err
			}
			if err := s.Add(ctx, newer, buf.Bytes()); err != nil {
				return err
			}
		case fd.NewName == "/dev/null" && fd.OrigName != "/dev/null":
			if err := s.Delete(ctx, orig); err != nil {
				return err
			}
		case orig != newer && len(fd.Hunks) == 0:
			if err := s.Move(ctx, orig, newer); err != nil {
				return err
			}
		default:
			oldData, err := s.fs.DownloadWithURL(ctx, orig)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := applyHunks(oldData, fd.Hunks, &buf); err != nil {
				return err
			}
			target := orig
			if orig != newer {
				if err := s.Move(ctx, orig, newer); err != nil {
					return err
				}
				target = newer
			}
			if err := s.Update(ctx, target, buf.Bytes()); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyHunks applies unified-diff hunks to oldData and writes the patched
// file to w. It walks the original lines sequentially, verifies every context
// and delete line, and emits additions. Any mismatch aborts with an error.
func applyHunks(oldData []byte, hunks []*sgdiff.Hunk, w io.Writer) error {
	oldLines := strings.SplitAfter(string(oldData), "\n")
	origIdx := 0

	linesEqual := func(a, b string) bool {
		if a == b {
			return true
		}
		// newline-at-EOF equivalence: SplitAfter leaves an empty final element
		// whereas the diff encodes it as a "\n" context line
		if (a == "" && b == "\n") || (a == "\n" && b == "") {
			return true
		}
		return false
	}

	for _, h := range hunks {
		targetIdx := int(h.OrigStartLine) - 1
		for origIdx < targetIdx && origIdx < len(oldLines) {
			if _, err := io.WriteString(w, oldLines[origIdx]); err != nil {
				return err
			}
			origIdx++
		}

		for _, hl := range strings.SplitAfter(string(h.Body), "\n") {
			if hl == "" {
				continue
			}
			tag := hl[0]
			line := hl[1:]

			switch tag {
			case ' ':
				if origIdx >= len(oldLines) || !linesEqual(oldLines[origIdx], line) {
					return fmt.Errorf("patch failed: context mismatch at original line %d", origIdx+1)
				}
				// skip the implicit newline terminating the file; it was already
				// emitted as part of the previous line
				if !(oldLines[origIdx] == "" && line == "\n") {
					if _, err := io.WriteString(w, line); err != nil {
						return err
					}
				}
				origIdx++

			case '-':
				if origIdx >= len(oldLines) || !linesEqual(oldLines[origIdx], line) {
					return fmt.Errorf("patch failed: delete mismatch at original line %d", origIdx+1)
				}
				origIdx++

			case '+':
				if _, err := io.WriteString(w, line); err != nil {
					return err
				}

			case '\\': // "\ No newline at end of file"
				continue

			default:
				return fmt.Errorf("patch failed: unexpected hunk tag %q", tag)
			}
		}
	}

	for origIdx < len(oldLines) {
		if _, err := io.WriteString(w, oldLines[origIdx]); err != nil {
			return err
		}
		origIdx++
	}
	return nil
}
