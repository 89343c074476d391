package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// DownloadInput identifies the artifact to restore.
type DownloadInput struct {
	Name  string `json:"name" required:"true" description:"artifact name"`
	Dest  string `json:"dest" required:"true" description:"destination location for extracted files"`
	RunID string `json:"runId,omitempty" description:"overrides the ambient run id"`
}

// DownloadOutput lists the restored files.
type DownloadOutput struct {
	Files []string `json:"files"`
}

// Download extracts a stored artifact into the destination location,
// recreating the relative layout captured at upload time.
func (s *Service) Download(ctx context.Context, input *DownloadInput, output *DownloadOutput) error {
	if input.Name == "" {
		return fmt.Errorf("artifact name is required")
	}
	if input.Dest == "" {
		return fmt.Errorf("destination is required")
	}
	id := runID(ctx, input.RunID)
	if id == "" {
		return fmt.Errorf("run id is required outside of a run context")
	}

	reader, _, err := s.store.Open(ctx, id, input.Name)
	if err != nil {
		return err
	}
	defer reader.Close()

	gzReader, err := gzip.NewReader(reader)
	if err != nil {
		return fmt.Errorf("failed to read artifact %v: %w", input.Name, err)
	}
	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read artifact %v: %w", input.Name, err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		var content bytes.Buffer
		if _, err := io.Copy(&content, tarReader); err != nil {
			return fmt.Errorf("failed to extract %v: %w", header.Name, err)
		}
		dest := url.Join(input.Dest, header.Name)
		if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewReader(content.Bytes())); err != nil {
			return fmt.Errorf("failed to write %v: %w", dest, err)
		}
		output.Files = append(output.Files, header.Name)
	}
	return nil
}
