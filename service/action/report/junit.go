package report

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// TestReport is the normalized view of a JUnit XML result file.
type TestReport struct {
	Suites []*Suite    `json:"suites,omitempty"`
	Totals Totals      `json:"totals"`
	Failed []*TestCase `json:"failed,omitempty"`
}

// Suite aggregates the cases of a single test suite.
type Suite struct {
	Name     string      `json:"name"`
	Tests    int         `json:"tests"`
	Failures int         `json:"failures"`
	Errors   int         `json:"errors"`
	Skipped  int         `json:"skipped"`
	Time     float64     `json:"time"`
	Cases    []*TestCase `json:"cases,omitempty"`
}

// TestCase is a single test result.
type TestCase struct {
	Suite     string  `json:"suite,omitempty"`
	ClassName string  `json:"className,omitempty"`
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
	Time      float64 `json:"time,omitempty"`
}

// Totals sums results across all suites.
type Totals struct {
	Tests    int     `json:"tests"`
	Failures int     `json:"failures"`
	Errors   int     `json:"errors"`
	Skipped  int     `json:"skipped"`
	Time     float64 `json:"time"`
}

// Case status values.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

type junitSuites struct {
	Suites []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Errors   int         `xml:"errors,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     float64     `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure"`
	Error     *junitFailure `xml:"error"`
	Skipped   *junitFailure `xml:"skipped"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// decodeJUnit accepts both a <testsuites> document and a bare <testsuite>
// root, which pytest and many other emitters produce.
func decodeJUnit(data []byte) (*TestReport, error) {
	root, err := rootElement(data)
	if err != nil {
		return nil, err
	}
	var suites []junitSuite
	switch root {
	case "testsuites":
		var document junitSuites
		if err := xml.Unmarshal(data, &document); err != nil {
			return nil, fmt.Errorf("failed to parse junit report: %w", err)
		}
		suites = document.Suites
	case "testsuite":
		var suite junitSuite
		if err := xml.Unmarshal(data, &suite); err != nil {
			return nil, fmt.Errorf("failed to parse junit report: %w", err)
		}
		suites = []junitSuite{suite}
	default:
		return nil, fmt.Errorf("unsupported junit root element: %v", root)
	}
	return buildReport(suites), nil
}

func rootElement(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return "", fmt.Errorf("junit report has no root element")
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse junit report: %w", err)
		}
		if start, ok := token.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func buildReport(suites []junitSuite) *TestReport {
	report := &TestReport{}
	for i := range suites {
		suite := normalizeSuite(&suites[i])
		report.Suites = append(report.Suites, suite)
		report.Totals.Tests += suite.Tests
		report.Totals.Failures += suite.Failures
		report.Totals.Errors += suite.Errors
		report.Totals.Skipped += suite.Skipped
		report.Totals.Time += suite.Time
		for _, aCase := range suite.Cases {
			if aCase.Status == StatusFailed || aCase.Status == StatusError {
				report.Failed = append(report.Failed, aCase)
			}
		}
	}
	return report
}

func normalizeSuite(src *junitSuite) *Suite {
	suite := &Suite{
		Name:     src.Name,
		Tests:    src.Tests,
		Failures: src.Failures,
		Errors:   src.Errors,
		Skipped:  src.Skipped,
		Time:     src.Time,
	}
	for _, aCase := range src.Cases {
		suite.Cases = append(suite.Cases, normalizeCase(src.Name, aCase))
	}
	// Some emitters leave suite-level counters empty; derive them from the
	// cases when that happens.
	if suite.Tests == 0 && len(suite.Cases) > 0 {
		suite.Tests = len(suite.Cases)
		for _, aCase := range suite.Cases {
			switch aCase.Status {
			case StatusFailed:
				suite.Failures++
			case StatusError:
				suite.Errors++
			case StatusSkipped:
				suite.Skipped++
			}
		}
	}
	return suite
}

func normalizeCase(suiteName string, src junitCase) *TestCase {
	aCase := &TestCase{
		Suite:     suiteName,
		ClassName: src.ClassName,
		Name:      src.Name,
		Status:    StatusPassed,
		Time:      src.Time,
	}
	switch {
	case src.Failure != nil:
		aCase.Status = StatusFailed
		aCase.Message = failureMessage(src.Failure)
	case src.Error != nil:
		aCase.Status = StatusError
		aCase.Message = failureMessage(src.Error)
	case src.Skipped != nil:
		aCase.Status = StatusSkipped
		aCase.Message = failureMessage(src.Skipped)
	}
	return aCase
}

func failureMessage(failure *junitFailure) string {
	if failure.Message != "" {
		return failure.Message
	}
	return failure.Type
}
