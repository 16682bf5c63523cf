package squish

import (
	"bytes"
	"fmt"

	"github.com/ethereum-optimism/infra/op-squish/logging"
	"github.com/ethereum-optimism/infra/op-squish/orchestrator"
	"github.com/ethereum-optimism/infra/op-squish/reporting"
	"github.com/ethereum-optimism/infra/op-squish/results"
	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum-optimism/infra/op-squish/ui"
)

// ResultReporter persists the outcome of a run.
type ResultReporter interface {
	ReportResults(summary orchestrator.RunSummary, model *results.Model) error
}

// FileReporter writes the summary, the result table and the report tree
// to the summary file of a run, and an HTML report next to it.
type FileReporter struct {
	logger *logging.FileLogger
	html   *reporting.HTMLReport
}

func NewFileReporter(logger *logging.FileLogger) (*FileReporter, error) {
	html, err := reporting.NewHTMLReport()
	if err != nil {
		return nil, err
	}
	return &FileReporter{logger: logger, html: html}, nil
}

func (r *FileReporter) ReportResults(summary orchestrator.RunSummary, model *results.Model) error {
	var roots []*types.ResultItem
	var expanded func(*types.ResultItem) bool
	if model != nil {
		roots = model.Roots()
		expanded = model.IsExpanded
	}

	var b bytes.Buffer
	fmt.Fprintln(&b, SummaryString(summary))
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, RenderResultsTable(summary))
	if len(roots) > 0 {
		fmt.Fprintln(&b)
		if err := ui.RenderResultTree(&b, roots, expanded); err != nil {
			return fmt.Errorf("rendering result tree: %w", err)
		}
	}
	if err := r.logger.LogSummary(b.String()); err != nil {
		return err
	}
	_, err := r.html.WriteFile(r.logger.GetBaseDir(), summary, roots)
	return err
}
