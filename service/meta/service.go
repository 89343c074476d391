// Package meta loads pipeline definition documents from any afs-addressable
// location, expanding ${env.KEY} references in the raw bytes before they are
// decoded.
package meta

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service reads definition documents relative to an optional base URL.
type Service struct {
	fs        afs.Service
	baseURL   string
	fsOptions []storage.Option
}

// New creates a meta service. baseURL may be empty, in which case locations
// are used as-is.
func New(fs afs.Service, baseURL string, options ...storage.Option) *Service {
	return &Service{fs: fs, baseURL: baseURL, fsOptions: options}
}

// Download returns the raw document bytes with ${env.KEY} expansion applied.
func (s *Service) Download(ctx context.Context, URL string) ([]byte, error) {
	location := s.resolve(URL)
	data, err := s.fs.DownloadWithURL(ctx, location, s.fsOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", location, err)
	}
	return []byte(expandEnvExpr(string(data))), nil
}

// Load decodes the document at the given URL into target, which is typically
// a *yaml.Node so callers can walk the raw tree.
func (s *Service) Load(ctx context.Context, URL string, target interface{}) error {
	data, err := s.Download(ctx, URL)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, target)
}

// Object returns storage metadata for the document at the given URL; the
// pipeline cache uses its mod time to decide when to reload.
func (s *Service) Object(ctx context.Context, URL string) (storage.Object, error) {
	return s.fs.Object(ctx, s.resolve(URL), s.fsOptions...)
}

// Exists reports whether a document is present at the given URL.
func (s *Service) Exists(ctx context.Context, URL string) (bool, error) {
	return s.fs.Exists(ctx, s.resolve(URL), s.fsOptions...)
}

func (s *Service) resolve(URL string) string {
	if s.baseURL == "" || !url.IsRelative(URL) {
		return URL
	}
	return url.Join(s.baseURL, strings.TrimPrefix(URL, "/"))
}
