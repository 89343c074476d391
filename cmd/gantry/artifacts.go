package main

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/gantryci/gantry/service/artifact"
)

// newArtifactsCmd builds the 'artifacts' command: list a run's stored
// artifacts or extract one of them into a local directory.
func newArtifactsCmd() *cobra.Command {
	var (
		download string
		out      string
	)
	cmd := &cobra.Command{
		Use:   "artifacts <runID>",
		Short: "List or fetch run artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			store := artifact.NewFS(cfg.Artifacts.Root)
			runID := args[0]
			if download != "" {
				return extractArtifact(ctx, store, cmd.OutOrStdout(), runID, download, out)
			}

			artifacts, err := store.List(ctx, runID)
			if err != nil {
				return err
			}
			if len(artifacts) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no artifacts for run %s\n", runID)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tFILES\tCREATED\tDIGEST")
			for _, meta := range artifacts {
				fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\n",
					meta.Name, meta.Size, len(meta.Files),
					meta.CreatedAt.Format(time.RFC3339), meta.Digest)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&download, "download", "", "artifact name to fetch")
	cmd.Flags().StringVar(&out, "out", ".", "directory the fetched artifact is extracted into")
	return cmd
}

// extractArtifact streams the artifact archive and unpacks its entries under
// the output directory.
func extractArtifact(ctx context.Context, store artifact.Store, w io.Writer, runID, name, out string) error {
	reader, meta, err := store.Open(ctx, runID, name)
	if err != nil {
		return err
	}
	defer reader.Close()

	absOut, err := filepath.Abs(out)
	if err != nil {
		return err
	}
	destURL := url.Normalize(absOut, file.Scheme)

	gz, err := gzip.NewReader(reader)
	if err != nil {
		return fmt.Errorf("could not open artifact %s: %w", name, err)
	}
	defer gz.Close()

	fs := afs.New()
	archive := tar.NewReader(gz)
	count := 0
	for {
		header, err := archive.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("could not read artifact %s: %w", name, err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		data, err := io.ReadAll(archive)
		if err != nil {
			return err
		}
		target := url.Join(destURL, header.Name)
		if err := fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
			return err
		}
		count++
	}
	fmt.Fprintf(w, "extracted %d file(s) from %s (%d bytes) into %s\n",
		count, meta.Name, meta.Size, absOut)
	return nil
}
