package report

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
)

// SummarizeInput takes either an already parsed report or the same source
// selectors as parse.
type SummarizeInput struct {
	Report   *TestReport `json:"report,omitempty" description:"parsed report to summarize"`
	Location string      `json:"location,omitempty" description:"URL of the JUnit XML report"`
	Source   []byte      `json:"source,omitempty" description:"inline JUnit XML content"`
}

// SummarizeOutput carries the rendered table and headline counters.
type SummarizeOutput struct {
	Summary  string `json:"summary"`
	Tests    int    `json:"tests"`
	Failures int    `json:"failures"`
	Errors   int    `json:"errors"`
	Skipped  int    `json:"skipped"`
}

// Summarize renders a compact per-suite table followed by the failed cases.
func (s *Service) Summarize(ctx context.Context, input *SummarizeInput, output *SummarizeOutput) error {
	report := input.Report
	if report == nil {
		parsed := &ParseOutput{}
		if err := s.Parse(ctx, &ParseInput{Location: input.Location, Source: input.Source}, parsed); err != nil {
			return err
		}
		report = parsed.Report
	}

	var builder strings.Builder
	writer := tabwriter.NewWriter(&builder, 2, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "SUITE\tTESTS\tFAILURES\tERRORS\tSKIPPED\tTIME")
	for _, suite := range report.Suites {
		fmt.Fprintf(writer, "%v\t%v\t%v\t%v\t%v\t%.2fs\n",
			suite.Name, suite.Tests, suite.Failures, suite.Errors, suite.Skipped, suite.Time)
	}
	totals := report.Totals
	fmt.Fprintf(writer, "total\t%v\t%v\t%v\t%v\t%.2fs\n",
		totals.Tests, totals.Failures, totals.Errors, totals.Skipped, totals.Time)
	if err := writer.Flush(); err != nil {
		return err
	}

	for _, aCase := range report.Failed {
		builder.WriteString(fmt.Sprintf("%v: %v.%v", aCase.Status, aCase.ClassName, aCase.Name))
		if aCase.Message != "" {
			builder.WriteString(" - " + aCase.Message)
		}
		builder.WriteString("\n")
	}

	output.Summary = builder.String()
	output.Tests = totals.Tests
	output.Failures = totals.Failures
	output.Errors = totals.Errors
	output.Skipped = totals.Skipped
	return nil
}
