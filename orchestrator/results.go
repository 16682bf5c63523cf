package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/metrics"
	"github.com/ethereum-optimism/infra/op-squish/process"
	"github.com/ethereum-optimism/infra/op-squish/results"
	"github.com/ethereum-optimism/infra/op-squish/suite"
	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// suiteRun is the state of one RunTestCases session.
type suiteRun struct {
	suite       *suite.Suite
	info        RunInfo
	queue       []string
	reportFiles []string
	results     []types.TestCaseResult
	current     *caseRun
	started     time.Time

	ctx  context.Context
	span trace.Span
}

func newSuiteRun(s *suite.Suite, testCases []string) *suiteRun {
	return &suiteRun{
		suite: s,
		queue: append([]string(nil), testCases...),
		info: RunInfo{
			Suite:     s.Name,
			RunID:     uuid.New().String(),
			TestCases: append([]string(nil), testCases...),
		},
	}
}

// caseRun streams the report of the test case that is currently running.
type caseRun struct {
	id         int
	name       string
	reportFile string
	started    time.Time
	follower   *results.Follower
	watcher    *results.Watcher
	handler    *results.XMLHandler
	sink       *caseSink
	err        error

	ctx  context.Context
	span trace.Span
}

// caseSink forwards parsed report items. It runs on the parser goroutine
// while the loop waits in Feed or Close.
type caseSink struct {
	events Events
	counts map[types.ResultType]int
}

func (s *caseSink) ResultItemCreated(item *types.ResultItem, parent *types.ResultItem) {
	s.counts[item.Type]++
	metrics.RecordResult(item.Type)
	s.events.ResultItemCreated(item, parent)
}

func (s *caseSink) CounterIncremented(resultType types.ResultType) {
	s.events.CounterIncremented(resultType)
}

func (s *caseSink) StatusUpdated(summary string) {
	s.events.StatusUpdated(summary)
}

// prepareRun creates the run directory. It runs once per run even when the
// request is retried.
func (o *Orchestrator) prepareRun(run *suiteRun) error {
	if run.info.RunDir != "" {
		return nil
	}
	dir, err := results.CreateRunDir(o.cfg.ResultsDir, run.suite.Name, o.cfg.Now())
	if err != nil {
		return err
	}
	run.info.RunDir = dir
	run.started = o.cfg.Now()
	run.ctx, run.span = o.tracer.Start(o.ctx(), fmt.Sprintf("suite %s", run.suite.Name),
		trace.WithAttributes(
			attribute.String("squish.run_id", run.info.RunID),
			attribute.Int("squish.test_cases", len(run.queue)),
		))
	o.log.Info("Running test cases", "suite", run.suite.Name, "cases", run.queue, "dir", dir)
	return nil
}

func (o *Orchestrator) startNextCase(run *suiteRun) {
	name := run.queue[0]
	run.queue = run.queue[1:]

	c, err := o.openCase(run, name)
	if err != nil {
		o.critical(fmt.Sprintf("Could not prepare results of %s: %v", name, err))
		run.results = append(run.results, types.TestCaseResult{Name: name, Status: types.TestStatusError, Error: err})
		metrics.RecordTestCase(run.suite.Name, name, types.TestStatusError)
		o.requestServerStop(err)
		return
	}
	run.current = c
	run.reportFiles = append(run.reportFiles, c.reportFile)
	o.breakpoints = o.cfg.Breakpoints.Snapshot(run.suite.ScriptExtension())

	o.log.Info("Starting test case", "suite", run.suite.Name, "case", name, "breakpoints", len(o.breakpoints))
	o.startRunner(c.ctx, process.ModeRun, process.RunnerOptions{
		SuiteDir:   run.suite.Dir,
		TestCase:   name,
		ReportFile: c.reportFile,
	})
}

func (o *Orchestrator) openCase(run *suiteRun, name string) (*caseRun, error) {
	reportFile := results.TestCaseReportFile(run.info.RunDir, name)
	if err := os.MkdirAll(filepath.Dir(reportFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create test case directory: %w", err)
	}

	c := &caseRun{
		id:         o.newID(),
		name:       name,
		reportFile: reportFile,
		started:    o.cfg.Now(),
		follower:   results.NewFollower(reportFile),
		sink:       &caseSink{events: o.events, counts: make(map[types.ResultType]int)},
	}
	id := c.id
	w, err := results.NewWatcher(o.log, reportFile, func() {
		o.loop.Post(func() { o.readResults(id) })
	})
	if err != nil {
		return nil, err
	}
	c.watcher = w
	c.handler = results.NewXMLHandler(o.log, c.sink)
	c.ctx, c.span = o.tracer.Start(run.ctx, fmt.Sprintf("test %s", name))
	return c, nil
}

func (o *Orchestrator) readResults(id int) {
	rp, ok := o.sessionPhase().(runPhase)
	if !ok || rp.run.current == nil || rp.run.current.id != id {
		return
	}
	o.pumpResults(rp.run.current)
}

// pumpResults feeds the bytes appended to the report since the last read.
func (o *Orchestrator) pumpResults(c *caseRun) {
	if c.err != nil {
		return
	}
	if _, err := c.follower.ReadNew(c.handler.Feed); err != nil {
		o.log.Error("Failed to read test results", "file", c.reportFile, "error", err)
		c.err = err
	}
}

// finishCase does the final read of the current report and records the
// outcome of the test case.
func (o *Orchestrator) finishCase(run *suiteRun, err error) {
	c := run.current
	if c == nil {
		return
	}
	run.current = nil

	_ = c.watcher.Close()
	o.pumpResults(c)
	if closeErr := c.handler.Close(); closeErr != nil && c.err == nil {
		c.err = closeErr
	}
	if c.err == nil {
		c.err = err
	}

	status := types.StatusFromCounts(c.sink.counts)
	switch {
	case c.err != nil:
		status = types.TestStatusError
	case o.canceled && status == types.TestStatusPass:
		status = types.TestStatusCanceled
	}
	res := types.TestCaseResult{
		Name:       c.name,
		Status:     status,
		Duration:   o.cfg.Now().Sub(c.started),
		ReportFile: c.reportFile,
		Counts:     c.sink.counts,
		Error:      c.err,
	}
	run.results = append(run.results, res)
	metrics.RecordTestCase(run.suite.Name, c.name, status)

	c.span.SetAttributes(attribute.String("squish.status", string(status)))
	if status != types.TestStatusPass {
		c.span.SetStatus(codes.Error, string(status))
	}
	c.span.End()
	o.log.Info("Test case finished", "case", c.name, "status", status, "duration", res.Duration)
}

// closeCase releases the current case without recording it.
func (o *Orchestrator) closeCase(run *suiteRun) {
	c := run.current
	if c == nil {
		return
	}
	run.current = nil
	_ = c.watcher.Close()
	_ = c.handler.Close()
	c.span.End()
}

// completeRun merges the case reports, rotates old runs and reports the run.
func (o *Orchestrator) completeRun(run *suiteRun, err error) {
	o.finishCase(run, err)
	for _, name := range run.queue {
		run.results = append(run.results, types.TestCaseResult{Name: name, Status: types.TestStatusCanceled})
	}
	run.queue = nil

	summary := RunSummary{
		RunInfo:  run.info,
		Results:  run.results,
		Canceled: o.canceled,
		Duration: o.cfg.Now().Sub(run.started),
		Err:      err,
	}

	if len(run.reportFiles) > 0 {
		if mergeErr := results.MergeResultFiles(o.log, run.reportFiles, run.info.RunDir, run.suite.Name); mergeErr != nil {
			o.critical(fmt.Sprintf("Could not merge test results: %v", mergeErr))
			metrics.RecordErrorDetails("merge", mergeErr)
			if summary.Err == nil {
				summary.Err = mergeErr
			}
		} else {
			summary.MergedReport = filepath.Join(run.info.RunDir, results.MergedReportName)
		}
	}

	suiteDir := results.SuiteResultsDir(o.cfg.ResultsDir, run.suite.Name)
	if _, rotErr := results.RotateRunDirectories(o.log, suiteDir, o.cfg.KeepResults); rotErr != nil {
		o.log.Warn("Failed to remove old results", "dir", suiteDir, "error", rotErr)
	}

	status := summary.Status()
	metrics.RecordSuiteRun(run.suite.Name, run.info.RunID, status, summary.Duration)
	if run.span != nil {
		if status != types.TestStatusPass {
			run.span.SetStatus(codes.Error, string(status))
		}
		run.span.End()
	}
	o.events.TestRunFinished(summary)
}
