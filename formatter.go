package squish

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-squish/orchestrator"
	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum-optimism/infra/op-squish/ui"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	FormatResults(summary orchestrator.RunSummary) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults writes the result table and the one line summary.
func (f *ConsoleResultFormatter) FormatResults(summary orchestrator.RunSummary) error {
	f.logger.Info("Printing results...")
	if _, err := fmt.Fprintln(f.out, RenderResultsTable(summary)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(f.out, SummaryString(summary))
	return err
}

// caseCounts folds the per type counters into the table columns.
type caseCounts struct {
	passed, failed, errors, warnings int
}

func countsOf(c map[types.ResultType]int) caseCounts {
	return caseCounts{
		passed:   c[types.ResultPass] + c[types.ResultExpectedFail],
		failed:   c[types.ResultFail] + c[types.ResultUnexpectedPass],
		errors:   c[types.ResultError] + c[types.ResultFatal],
		warnings: c[types.ResultWarn],
	}
}

func (c *caseCounts) add(o caseCounts) {
	c.passed += o.passed
	c.failed += o.failed
	c.errors += o.errors
	c.warnings += o.warnings
}

// RenderResultsTable renders a suite run as a go-pretty table.
func RenderResultsTable(summary orchestrator.RunSummary) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Squish Test Results (%s)", formatDuration(summary.Duration)))

	t.AppendHeader(table.Row{
		"Type", "ID", "Duration", "Passed", "Failed", "Errors", "Warnings", "Status", "Error",
	})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "ID", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Errors", Align: text.AlignRight},
		{Name: "Warnings", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	var total caseCounts
	rows := make([]table.Row, 0, len(summary.Results))
	for i, r := range summary.Results {
		prefix := ui.TreeBranch
		if i == len(summary.Results)-1 {
			prefix = ui.TreeLastBranch
		}
		c := countsOf(r.Counts)
		total.add(c)
		rows = append(rows, table.Row{
			"Test",
			prefix + types.TestCaseDisplayName(r.Name),
			formatDuration(r.Duration),
			c.passed,
			c.failed,
			c.errors,
			c.warnings,
			getResultString(r.Status),
			extractKeyErrorMessage(r.Error),
		})
	}

	status := summary.Status()
	t.AppendRow(table.Row{
		"Suite",
		summary.Suite,
		formatDuration(summary.Duration),
		total.passed,
		total.failed,
		total.errors,
		total.warnings,
		getResultString(status),
		extractKeyErrorMessage(summary.Err),
	})
	t.AppendRows(rows)

	switch status {
	case types.TestStatusPass:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	case types.TestStatusCanceled:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d test cases", len(summary.Results)),
		formatDuration(summary.Duration),
		total.passed,
		total.failed,
		total.errors,
		total.warnings,
		getResultString(status),
		"",
	})

	return t.Render()
}

// SummaryString describes a run in a few plain lines.
func SummaryString(summary orchestrator.RunSummary) string {
	passed := 0
	for _, r := range summary.Results {
		passed += boolToInt(r.Status == types.TestStatusPass)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Suite %s: %s (%d/%d test cases passed in %s, run %s)",
		summary.Suite, summary.Status(), passed, len(summary.Results), formatDuration(summary.Duration), summary.RunID)
	if summary.MergedReport != "" {
		fmt.Fprintf(&b, "\nReport: %s", summary.MergedReport)
	}
	if summary.Err != nil {
		fmt.Fprintf(&b, "\nError: %v", summary.Err)
	}
	return b.String()
}
