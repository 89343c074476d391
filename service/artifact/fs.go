package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/gantryci/gantry/internal/clock"
)

const (
	archiveExt      = ".tar.gz"
	metaExt         = ".json"
	archiveMimeType = "application/gzip"
)

// FS stores artifacts on any viant/afs scheme: local paths, mem://, s3://
// and friends. Layout: <base>/<runID>/<name>.tar.gz plus a metadata sidecar
// <base>/<runID>/<name>.json.
type FS struct {
	fs      afs.Service
	baseURL string
}

var _ Store = (*FS)(nil)

// NewFS creates a filesystem-backed artifact store rooted at baseURL.
func NewFS(baseURL string) *FS {
	return &FS{fs: afs.New(), baseURL: baseURL}
}

func (s *FS) archiveURL(runID, name string) string {
	return url.Join(s.baseURL, runID, name+archiveExt)
}

func (s *FS) metadataURL(runID, name string) string {
	return url.Join(s.baseURL, runID, name+metaExt)
}

// Save harvests the declared paths into a tar.gz bundle. Only what the step
// declared is collected; directories are walked recursively.
func (s *FS) Save(ctx context.Context, runID, name string, paths []string) (*Metadata, error) {
	if name == "" {
		return nil, fmt.Errorf("artifact name is required")
	}
	assets, err := s.collect(ctx, paths)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("artifact %v: no files matched declared paths %v", name, paths)
	}

	var archive bytes.Buffer
	digest := sha256.New()
	gzWriter := gzip.NewWriter(io.MultiWriter(&archive, digest))
	tarWriter := tar.NewWriter(gzWriter)

	files := make([]string, 0, len(assets))
	for _, asset := range assets {
		header := &tar.Header{
			Name:    asset.name,
			Mode:    0o644,
			Size:    int64(len(asset.data)),
			ModTime: clock.Now(),
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("failed to write archive header %v: %w", asset.name, err)
		}
		if _, err := tarWriter.Write(asset.data); err != nil {
			return nil, fmt.Errorf("failed to write archive entry %v: %w", asset.name, err)
		}
		files = append(files, asset.name)
	}
	if err := tarWriter.Close(); err != nil {
		return nil, err
	}
	if err := gzWriter.Close(); err != nil {
		return nil, err
	}

	metadata := &Metadata{
		Name:        name,
		RunID:       runID,
		Size:        int64(archive.Len()),
		Digest:      "sha256:" + hex.EncodeToString(digest.Sum(nil)),
		Files:       files,
		CreatedAt:   clock.Now(),
		ContentType: archiveMimeType,
	}

	if err := s.fs.Upload(ctx, s.archiveURL(runID, name), file.DefaultFileOsMode, bytes.NewReader(archive.Bytes())); err != nil {
		return nil, fmt.Errorf("failed to upload artifact %v: %w", name, err)
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	if err := s.fs.Upload(ctx, s.metadataURL(runID, name), file.DefaultFileOsMode, bytes.NewReader(encoded)); err != nil {
		return nil, fmt.Errorf("failed to upload artifact metadata %v: %w", name, err)
	}
	return metadata, nil
}

type asset struct {
	name string
	data []byte
}

// collect reads every file reachable from the declared paths, keeping paths
// inside the archive relative to each declared root.
func (s *FS) collect(ctx context.Context, paths []string) ([]*asset, error) {
	var assets []*asset
	for _, declared := range paths {
		objects, err := s.fs.List(ctx, declared, option.NewRecursive(true))
		if err != nil {
			return nil, fmt.Errorf("failed to list %v: %w", declared, err)
		}
		for _, object := range objects {
			if object.IsDir() {
				continue
			}
			data, err := s.fs.Download(ctx, object)
			if err != nil {
				return nil, fmt.Errorf("failed to read %v: %w", object.URL(), err)
			}
			assets = append(assets, &asset{name: entryName(declared, object.URL(), object.Name()), data: data})
		}
	}
	sort.Slice(assets, func(i, j int) bool { return assets[i].name < assets[j].name })
	return assets, nil
}

// entryName derives the in-archive path for an object found under a declared
// root.
func entryName(declared, objectURL, objectName string) string {
	declaredPath := url.Path(declared)
	objectPath := url.Path(objectURL)
	if relative := strings.TrimPrefix(objectPath, declaredPath); relative != objectPath {
		if relative == "" {
			// The declared path was the file itself.
			return objectName
		}
		return strings.TrimPrefix(relative, "/")
	}
	return objectName
}

// Open streams the artifact archive.
func (s *FS) Open(ctx context.Context, runID, name string) (io.ReadCloser, *Metadata, error) {
	metadata, err := s.loadMetadata(ctx, runID, name)
	if err != nil {
		return nil, nil, err
	}
	reader, err := s.fs.OpenURL(ctx, s.archiveURL(runID, name))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open artifact %v: %w", name, err)
	}
	return reader, metadata, nil
}

// List returns metadata of all artifacts stored for a run.
func (s *FS) List(ctx context.Context, runID string) ([]*Metadata, error) {
	baseURL := url.Join(s.baseURL, runID)
	if ok, _ := s.fs.Exists(ctx, baseURL); !ok {
		return nil, nil
	}
	objects, err := s.fs.List(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	var result []*Metadata
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), metaExt) {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			return nil, err
		}
		metadata := &Metadata{}
		if err := json.Unmarshal(data, metadata); err != nil {
			return nil, fmt.Errorf("corrupted artifact metadata %v: %w", object.URL(), err)
		}
		result = append(result, metadata)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Delete removes the artifact archive and its metadata.
func (s *FS) Delete(ctx context.Context, runID, name string) error {
	if _, err := s.loadMetadata(ctx, runID, name); err != nil {
		return err
	}
	if err := s.fs.Delete(ctx, s.archiveURL(runID, name)); err != nil {
		return err
	}
	return s.fs.Delete(ctx, s.metadataURL(runID, name))
}

func (s *FS) loadMetadata(ctx context.Context, runID, name string) (*Metadata, error) {
	metaURL := s.metadataURL(runID, name)
	if ok, _ := s.fs.Exists(ctx, metaURL); !ok {
		return nil, ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, metaURL)
	if err != nil {
		return nil, err
	}
	metadata := &Metadata{}
	if err := json.Unmarshal(data, metadata); err != nil {
		return nil, fmt.Errorf("corrupted artifact metadata %v: %w", metaURL, err)
	}
	return metadata, nil
}
