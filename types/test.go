package types

import (
	"strings"
	"time"
)

// TestStatus represents the outcome of a test case or a suite run
type TestStatus string

const (
	TestStatusPass     TestStatus = "pass"
	TestStatusFail     TestStatus = "fail"
	TestStatusError    TestStatus = "error"
	TestStatusCanceled TestStatus = "canceled"
)

// TestCaseResult captures the outcome of a single test case run
type TestCaseResult struct {
	Name       string
	Status     TestStatus
	Duration   time.Duration
	ReportFile string
	Counts     map[ResultType]int
	Error      error // startup or protocol failure, nil when the report decides the status
}

// StatusFromCounts derives a test case status from the per-type result counts.
func StatusFromCounts(counts map[ResultType]int) TestStatus {
	if counts[ResultFatal] > 0 || counts[ResultError] > 0 {
		return TestStatusError
	}
	if counts[ResultFail] > 0 || counts[ResultUnexpectedPass] > 0 {
		return TestStatusFail
	}
	return TestStatusPass
}

// TestCaseDisplayName strips the conventional "tst_" prefix from a test case name.
func TestCaseDisplayName(name string) string {
	trimmed := strings.TrimPrefix(name, "tst_")
	if trimmed == "" {
		return name
	}
	return trimmed
}
