package report

import (
	"context"
	"fmt"
)

// ParseInput identifies the JUnit XML to read, either by URL or inline.
type ParseInput struct {
	Location    string `json:"location,omitempty" description:"URL of the JUnit XML report"`
	Source      []byte `json:"source,omitempty" description:"inline JUnit XML content"`
	FailOnError bool   `json:"failOnError,omitempty" description:"fail the step when the report contains failures or errors"`
}

// ParseOutput carries the normalized report.
type ParseOutput struct {
	Report *TestReport `json:"report"`
}

// Parse reads a JUnit XML report and normalizes it. With FailOnError set,
// a report containing failures or errors fails the step so the pipeline can
// gate on test results.
func (s *Service) Parse(ctx context.Context, input *ParseInput, output *ParseOutput) error {
	data := input.Source
	if len(data) == 0 {
		if input.Location == "" {
			return fmt.Errorf("either location or source is required")
		}
		var err error
		data, err = s.fs.DownloadWithURL(ctx, input.Location)
		if err != nil {
			return fmt.Errorf("failed to read report %v: %w", input.Location, err)
		}
	}
	report, err := decodeJUnit(data)
	if err != nil {
		return err
	}
	output.Report = report
	if input.FailOnError && report.Totals.Failures+report.Totals.Errors > 0 {
		return fmt.Errorf("%v of %v test(s) did not pass",
			report.Totals.Failures+report.Totals.Errors, report.Totals.Tests)
	}
	return nil
}
