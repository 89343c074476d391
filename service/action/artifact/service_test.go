package artifact

import (
	"context"
	"strings"
	"testing"

	store "github.com/gantryci/gantry/service/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

func newTestService(t *testing.T, baseURL string, files map[string]string) *Service {
	t.Helper()
	fs := afs.New()
	ctx := context.Background()
	for location, content := range files {
		require.NoError(t, fs.Upload(ctx, location, file.DefaultFileOsMode, strings.NewReader(content)))
	}
	return New(store.NewFS(baseURL))
}

func TestService_UploadDownloadList(t *testing.T) {
	service := newTestService(t, "mem://localhost/action-artifacts", map[string]string{
		"mem://localhost/ws/reports/python_junit.xml": "<testsuite/>",
		"mem://localhost/ws/reports/coverage.out":     "mode: set",
	})
	ctx := context.Background()

	uploadOut := &UploadOutput{}
	err := service.Upload(ctx, &UploadInput{
		Name:  "test-results",
		Paths: []string{"mem://localhost/ws/reports"},
		RunID: "ci/1",
	}, uploadOut)
	require.NoError(t, err)
	assert.Equal(t, "ci/1", uploadOut.RunID)
	assert.Equal(t, []string{"coverage.out", "python_junit.xml"}, uploadOut.Files)
	assert.True(t, strings.HasPrefix(uploadOut.Digest, "sha256:"))

	listOut := &ListOutput{}
	require.NoError(t, service.List(ctx, &ListInput{RunID: "ci/1"}, listOut))
	require.Len(t, listOut.Artifacts, 1)
	assert.Equal(t, "test-results", listOut.Artifacts[0].Name)

	downloadOut := &DownloadOutput{}
	err = service.Download(ctx, &DownloadInput{
		Name:  "test-results",
		Dest:  "mem://localhost/restored",
		RunID: "ci/1",
	}, downloadOut)
	require.NoError(t, err)
	assert.Equal(t, []string{"coverage.out", "python_junit.xml"}, downloadOut.Files)

	restored, err := afs.New().DownloadWithURL(ctx, "mem://localhost/restored/python_junit.xml")
	require.NoError(t, err)
	assert.Equal(t, "<testsuite/>", string(restored))
}

func TestService_Download_missingArtifact(t *testing.T) {
	service := newTestService(t, "mem://localhost/action-artifacts2", nil)
	err := service.Download(context.Background(), &DownloadInput{
		Name:  "nope",
		Dest:  "mem://localhost/out",
		RunID: "ci/9",
	}, &DownloadOutput{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_Upload_requiresRunID(t *testing.T) {
	service := newTestService(t, "mem://localhost/action-artifacts3", nil)
	err := service.Upload(context.Background(), &UploadInput{
		Name:  "x",
		Paths: []string{"mem://localhost/ws"},
	}, &UploadOutput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run id is required")
}
