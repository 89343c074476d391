package report

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
)

const junitWithFailures = `<?xml version="1.0" encoding="utf-8"?>
<testsuites>
  <testsuite name="pytest" tests="4" failures="1" errors="1" skipped="1" time="2.5">
    <testcase classname="tests.test_client" name="test_quote" time="0.4"/>
    <testcase classname="tests.test_client" name="test_chart" time="0.9">
      <failure message="assert 404 == 200">assert response.status_code == 200</failure>
    </testcase>
    <testcase classname="tests.test_client" name="test_book" time="0.1">
      <error type="ConnectionError">connection refused</error>
    </testcase>
    <testcase classname="tests.test_client" name="test_deep" time="0.0">
      <skipped message="requires api token"/>
    </testcase>
  </testsuite>
</testsuites>`

const junitBareSuite = `<?xml version="1.0" encoding="utf-8"?>
<testsuite name="unit" tests="2" failures="0" errors="0" skipped="0" time="0.3">
  <testcase classname="tests.test_util" name="test_parse" time="0.1"/>
  <testcase classname="tests.test_util" name="test_render" time="0.2"/>
</testsuite>`

func TestService_Parse_inlineSource(t *testing.T) {
	service := New()
	output := &ParseOutput{}
	err := service.Parse(context.Background(), &ParseInput{Source: []byte(junitWithFailures)}, output)
	require.NoError(t, err)

	report := output.Report
	require.NotNil(t, report)
	require.Len(t, report.Suites, 1)
	assert.Equal(t, "pytest", report.Suites[0].Name)
	assert.Equal(t, Totals{Tests: 4, Failures: 1, Errors: 1, Skipped: 1, Time: 2.5}, report.Totals)

	require.Len(t, report.Failed, 2)
	assert.Equal(t, "test_chart", report.Failed[0].Name)
	assert.Equal(t, StatusFailed, report.Failed[0].Status)
	assert.Equal(t, "assert 404 == 200", report.Failed[0].Message)
	assert.Equal(t, "test_book", report.Failed[1].Name)
	assert.Equal(t, StatusError, report.Failed[1].Status)
}

func TestService_Parse_bareSuiteRoot(t *testing.T) {
	service := New()
	output := &ParseOutput{}
	err := service.Parse(context.Background(), &ParseInput{Source: []byte(junitBareSuite)}, output)
	require.NoError(t, err)
	require.Len(t, output.Report.Suites, 1)
	assert.Equal(t, 2, output.Report.Totals.Tests)
	assert.Empty(t, output.Report.Failed)
}

func TestService_Parse_fromLocation(t *testing.T) {
	location := "mem://localhost/reports/python_junit.xml"
	fs := afs.New()
	require.NoError(t, fs.Upload(context.Background(), location, file.DefaultFileOsMode, strings.NewReader(junitBareSuite)))

	service := New()
	output := &ParseOutput{}
	err := service.Parse(context.Background(), &ParseInput{Location: location}, output)
	require.NoError(t, err)
	assert.Equal(t, 2, output.Report.Totals.Tests)
}

func TestService_Parse_failOnError(t *testing.T) {
	service := New()
	err := service.Parse(context.Background(),
		&ParseInput{Source: []byte(junitWithFailures), FailOnError: true}, &ParseOutput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 4 test(s) did not pass")
}

func TestService_Parse_invalidInput(t *testing.T) {
	service := New()
	err := service.Parse(context.Background(), &ParseInput{}, &ParseOutput{})
	assert.Error(t, err)

	err = service.Parse(context.Background(), &ParseInput{Source: []byte("<html></html>")}, &ParseOutput{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported junit root element")
}

func TestService_Parse_derivedCounters(t *testing.T) {
	source := `<testsuite name="derived">
  <testcase classname="a" name="ok"/>
  <testcase classname="a" name="bad"><failure message="boom"/></testcase>
</testsuite>`
	service := New()
	output := &ParseOutput{}
	err := service.Parse(context.Background(), &ParseInput{Source: []byte(source)}, output)
	require.NoError(t, err)
	assert.Equal(t, 2, output.Report.Totals.Tests)
	assert.Equal(t, 1, output.Report.Totals.Failures)
}
