package types

import "strings"

// ResultType classifies a single entry of a Squish XML report.
type ResultType string

const (
	ResultLog            ResultType = "log"
	ResultPass           ResultType = "pass"
	ResultFail           ResultType = "fail"
	ResultExpectedFail   ResultType = "xfail"
	ResultUnexpectedPass ResultType = "xpass"
	ResultWarn           ResultType = "warning"
	ResultError          ResultType = "error"
	ResultFatal          ResultType = "fatal"
	ResultDetail         ResultType = "detail"
	ResultStart          ResultType = "start"
	ResultEnd            ResultType = "end"
)

// AllResultTypes lists every result type in display order.
var AllResultTypes = []ResultType{
	ResultStart, ResultEnd, ResultLog, ResultPass, ResultFail, ResultExpectedFail,
	ResultUnexpectedPass, ResultWarn, ResultError, ResultFatal, ResultDetail,
}

func (t ResultType) String() string {
	return string(t)
}

// ParseResultType maps the report's type attribute onto a ResultType.
// Unknown values are treated as log entries.
func ParseResultType(attr string) ResultType {
	switch strings.ToUpper(strings.TrimSpace(attr)) {
	case "PASS":
		return ResultPass
	case "FAIL":
		return ResultFail
	case "XFAIL":
		return ResultExpectedFail
	case "XPASS":
		return ResultUnexpectedPass
	case "WARNING":
		return ResultWarn
	case "ERROR":
		return ResultError
	case "FATAL":
		return ResultFatal
	case "DETAIL", "DETAILED":
		return ResultDetail
	case "START", "STARTTEST":
		return ResultStart
	case "END", "ENDTEST":
		return ResultEnd
	}
	return ResultLog
}

// IsVerdict reports whether the type counts towards the pass/fail summary.
func (t ResultType) IsVerdict() bool {
	switch t {
	case ResultPass, ResultFail, ResultExpectedFail, ResultUnexpectedPass:
		return true
	}
	return false
}

// IsFailure reports whether the type makes a test run unsuccessful.
func (t ResultType) IsFailure() bool {
	switch t {
	case ResultFail, ResultUnexpectedPass, ResultError, ResultFatal:
		return true
	}
	return false
}

// ResultItem is one node of the result tree.
// Children are only appended by the result model.
type ResultItem struct {
	Type      ResultType
	Text      string
	Details   string
	Timestamp string
	File      string
	Line      int
	Children  []*ResultItem
}
