// Package artifact stores build outputs produced by pipeline runs. An
// artifact is a named tar.gz bundle of declared paths plus a metadata record
// carrying its size, sha256 digest and file list.
package artifact

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested artifact does not exist.
var ErrNotFound = errors.New("artifact: not found")

// Metadata describes a stored artifact.
type Metadata struct {
	Name        string    `json:"name"`
	RunID       string    `json:"runID"`
	Size        int64     `json:"size"`
	Digest      string    `json:"digest"`
	Files       []string  `json:"files,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ContentType string    `json:"contentType"`
}

// Store persists and retrieves run artifacts.
type Store interface {
	// Save bundles the declared paths into a named artifact for the run.
	Save(ctx context.Context, runID, name string, paths []string) (*Metadata, error)

	// Open returns the artifact archive stream and its metadata.
	Open(ctx context.Context, runID, name string) (io.ReadCloser, *Metadata, error)

	// List returns metadata for every artifact a run produced.
	List(ctx context.Context, runID string) ([]*Metadata, error)

	// Delete removes an artifact and its metadata.
	Delete(ctx context.Context, runID, name string) error
}
