package templates

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

// GetTemplateFunc returns the template functions shared by the HTML reports
func GetTemplateFunc() template.FuncMap {
	return template.FuncMap{
		"formatDuration": func(d time.Duration) string {
			if d < time.Second {
				return fmt.Sprintf("%dms", d.Milliseconds())
			}
			return d.Truncate(time.Millisecond).String()
		},
		"getStatusClass": func(status types.TestStatus) string {
			return getStatusString(status)
		},
		"getResultClass": getResultClass,
		"resultLabel": func(t types.ResultType) string {
			return strings.ToUpper(t.String())
		},
		"getIndentClass": func(depth int) string {
			return fmt.Sprintf("indent-%d", depth)
		},
		"multiply": func(a, b int) int {
			return a * b
		},
	}
}

// getStatusString returns a consistent lowercase status string
func getStatusString(status types.TestStatus) string {
	switch status {
	case types.TestStatusPass:
		return "pass"
	case types.TestStatusFail:
		return "fail"
	case types.TestStatusError:
		return "error"
	case types.TestStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// getResultClass groups report entries into the css classes of the report.
func getResultClass(t types.ResultType) string {
	switch {
	case t == types.ResultPass || t == types.ResultExpectedFail:
		return "pass"
	case t == types.ResultWarn:
		return "warn"
	case t.IsFailure():
		return "fail"
	default:
		return "info"
	}
}
