package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Summarize(t *testing.T) {
	service := New()
	output := &SummarizeOutput{}
	err := service.Summarize(context.Background(),
		&SummarizeInput{Source: []byte(junitWithFailures)}, output)
	require.NoError(t, err)

	assert.Equal(t, 4, output.Tests)
	assert.Equal(t, 1, output.Failures)
	assert.Equal(t, 1, output.Errors)
	assert.Equal(t, 1, output.Skipped)

	assert.Contains(t, output.Summary, "SUITE")
	assert.Contains(t, output.Summary, "pytest")
	assert.Contains(t, output.Summary, "total")
	assert.Contains(t, output.Summary, "failed: tests.test_client.test_chart - assert 404 == 200")
	assert.Contains(t, output.Summary, "error: tests.test_client.test_book")
}

func TestService_Summarize_existingReport(t *testing.T) {
	service := New()
	parsed := &ParseOutput{}
	require.NoError(t, service.Parse(context.Background(),
		&ParseInput{Source: []byte(junitBareSuite)}, parsed))

	output := &SummarizeOutput{}
	err := service.Summarize(context.Background(), &SummarizeInput{Report: parsed.Report}, output)
	require.NoError(t, err)
	assert.Equal(t, 2, output.Tests)
	assert.Zero(t, output.Failures)
	assert.Contains(t, output.Summary, "unit")
}
