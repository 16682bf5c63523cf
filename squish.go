package squish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ethereum-optimism/infra/op-squish/exitcodes"
	"github.com/ethereum-optimism/infra/op-squish/logging"
	"github.com/ethereum-optimism/infra/op-squish/orchestrator"
	"github.com/ethereum-optimism/infra/op-squish/process"
	"github.com/ethereum-optimism/infra/op-squish/results"
	"github.com/ethereum-optimism/infra/op-squish/service"
	"github.com/ethereum-optimism/infra/op-squish/suite"
	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum-optimism/infra/op-squish/ui"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// localsWait bounds how long an interrupted runner waits for its locals
// before it is continued.
const localsWait = 5 * time.Second

// squish implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &squish{}

var (
	_ orchestrator.Events = &squish{}
	_ orchestrator.Host   = &squish{}
)

type sessionResult struct {
	request types.Request
	err     error
}

// squish runs one session of the orchestrator on behalf of the command line.
// It receives the orchestrator's events and acts as its host.
type squish struct {
	ctx     context.Context
	config  *Config
	version string
	orch    *orchestrator.Orchestrator

	model     *results.Model
	formatter ResultFormatter
	fileLog   *logging.FileLogger
	reporter  ResultReporter
	svc       *service.Service

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
	sessions   chan sessionResult
	summary    *orchestrator.RunSummary
	criticals  []string
	resumer    *time.Timer

	running  atomic.Bool
	stopOnce sync.Once

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*squish, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if config.Out == nil {
		config.Out = os.Stdout
	}
	if shutdownCallback == nil {
		shutdownCallback = func(error) {}
	}

	config.Log.Debug("Creating squish session with config",
		"command", config.Command,
		"suite", config.SuiteDir,
		"testCases", config.TestCases,
		"squishPath", config.Settings.SquishPath,
		"resultsDir", config.Settings.ResultsDir)

	s := &squish{
		ctx:              ctx,
		config:           config,
		version:          version,
		model:            results.NewModel(),
		formatter:        NewConsoleResultFormatter(config.Log, config.Out),
		sessions:         make(chan sessionResult, 1),
		shutdownCallback: shutdownCallback,
	}

	factory := config.Factory
	if factory == nil {
		factory = orchestrator.NewProcessFactory(
			config.Settings.ServerBinary(),
			config.Settings.RunnerBinary(),
			process.Config{
				Log:             config.Log,
				Env:             config.Settings.Environment,
				InterruptHelper: config.Settings.InterruptHelper,
				StartTimeout:    config.Settings.StartTimeout,
				StopTimeout:     config.Settings.StopTimeout,
			},
		)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Log:              config.Log,
		Factory:          factory,
		Events:           s,
		Host:             s,
		Breakpoints:      orchestrator.NewBreakpoints(config.Breakpoints...),
		ServerPort:       config.Settings.Server.Port,
		ServerVerbose:    config.Settings.Server.Verbose,
		ResultsDir:       config.Settings.ResultsDir,
		KeepResults:      config.Settings.KeepResults,
		MinimizeOnRun:    config.Settings.MinimizeOnRun,
		VarsPollInterval: config.Settings.VarsPollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	s.orch = orch
	config.Log.Info("squish.New: created orchestrator", "command", config.Command)
	return s, nil
}

// Start runs the configured session to completion.
// Start implements the cliapp.Lifecycle interface.
func (s *squish) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			s.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	s.ctx = ctx
	s.running.Store(true)

	runID := uuid.New().String()
	fileLog, err := logging.NewFileLogger(s.config.LogDir, runID)
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create file logger: %w", err))
	}
	s.fileLog = fileLog
	reporter, err := NewFileReporter(fileLog)
	if err != nil {
		return NewRuntimeError(err)
	}
	s.reporter = reporter

	s.svc = service.New(service.Config{
		Log:         s.config.Log,
		HealthzAddr: s.config.HealthzAddr,
		MetricsAddr: s.config.MetricsAddr,
		Status:      s.status,
	})
	s.svc.Start(ctx)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelLoop = cancel
	s.loopDone = make(chan struct{})
	go func() {
		defer close(s.loopDone)
		if err := s.orch.Run(loopCtx); err != nil {
			s.config.Log.Error("Orchestrator loop failed", "error", err)
		}
	}()

	s.config.Log.Info("Starting op-squish session", "command", s.config.Command, "logDir", fileLog.GetBaseDir())
	if err := s.request(); err != nil {
		return NewRuntimeError(err)
	}

	res, err := s.wait(ctx)
	if err != nil {
		return NewRuntimeError(err)
	}
	if err := s.outcome(res); err != nil {
		if IsTestFailureError(err) {
			s.config.Log.Warn("Test run completed with failures, returning exit code 1")
		}
		return err
	}

	go func() {
		s.shutdownCallback(nil)
	}()
	return nil // Success (exit code 0)
}

// request asks the orchestrator for the configured session.
func (s *squish) request() error {
	switch s.config.Command {
	case CommandRun, CommandRecord:
		st, err := suite.Load(s.config.SuiteDir)
		if err != nil {
			return fmt.Errorf("failed to load suite: %w", err)
		}
		cases, err := st.Select(s.config.TestCases)
		if err != nil {
			return err
		}
		if s.config.Command == CommandRecord {
			s.orch.RecordTestCase(st, cases[0])
			return nil
		}
		s.orch.RunTestCases(st, cases)
	case CommandQuery:
		switch {
		case len(s.config.SetGlobalScriptDirs) > 0:
			s.orch.SetGlobalScriptDirs(s.config.SetGlobalScriptDirs)
		case s.config.QueryGlobalScriptDirs:
			s.orch.QueryGlobalScriptDirs()
		default:
			s.orch.QueryServerInfo()
		}
	case CommandServerConfig:
		s.orch.ChangeServerConfig(s.config.ConfigChanges)
	default:
		return fmt.Errorf("unknown command %q", s.config.Command)
	}
	return nil
}

// wait blocks until the session ends. Canceling ctx stops the session
// first, which is how a recording is finished.
func (s *squish) wait(ctx context.Context) (sessionResult, error) {
	select {
	case res := <-s.sessions:
		return res, nil
	case <-ctx.Done():
	}

	s.config.Log.Info("Interrupted, stopping the squish session")
	s.orch.StopTestRun()
	timeout := s.config.Settings.StopTimeout + s.config.Settings.StartTimeout
	select {
	case res := <-s.sessions:
		return res, nil
	case <-time.After(timeout):
		return sessionResult{}, fmt.Errorf("squish session did not stop within %s", timeout)
	}
}

// outcome maps the end of a session to the process exit status.
func (s *squish) outcome(res sessionResult) error {
	if s.config.Command == CommandRun && s.summary != nil {
		status := s.summary.Status()
		s.config.Log.Info("Test run completed", "run_id", s.summary.RunID, "status", status)
		switch {
		case s.summary.Err != nil:
			return NewRuntimeError(s.summary.Err)
		case status != types.TestStatusPass:
			return NewTestFailureError(SummaryString(*s.summary))
		}
		return nil
	}
	if res.err != nil {
		if len(s.criticals) > 0 {
			return NewRuntimeError(fmt.Errorf("%w: %s", res.err, strings.Join(s.criticals, " ")))
		}
		return NewRuntimeError(res.err)
	}
	return nil
}

// Stop stops the squish session and its child processes.
// Stop implements the cliapp.Lifecycle interface.
func (s *squish) Stop(ctx context.Context) error {
	s.config.Log.Info("Stopping op-squish")

	if !s.running.Load() {
		s.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	s.running.Store(false)

	var err error
	s.stopOnce.Do(func() {
		if s.cancelLoop != nil {
			s.cancelLoop()
			select {
			case <-s.loopDone:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		if s.svc != nil {
			s.svc.Shutdown()
		}
		if s.fileLog != nil {
			if cerr := s.fileLog.Complete(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})

	s.config.Log.Info("op-squish stopped successfully")
	return err
}

// Stopped returns true if the op-squish service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (s *squish) Stopped() bool {
	return !s.running.Load()
}

// status feeds the healthz endpoint.
func (s *squish) status() map[string]string {
	return map[string]string{
		"state":   s.orch.State().String(),
		"request": s.orch.Request().String(),
		"runner":  s.orch.RunnerState().String(),
	}
}

func (s *squish) println(a ...any) {
	if _, err := fmt.Fprintln(s.config.Out, a...); err != nil {
		s.config.Log.Warn("Failed to write output", "error", err)
	}
}

// Events

func (s *squish) StateChanged(state types.OrchestratorState, request types.Request) {
	s.config.Log.Debug("Orchestrator state changed", "state", state, "request", request)
}

func (s *squish) RunnerStateChanged(state types.RunnerState) {
	s.config.Log.Debug("Runner state changed", "runnerState", state)
}

func (s *squish) TestRunStarted(run orchestrator.RunInfo) {
	s.model.Clear()
	s.summary = nil
	s.config.Log.Info("Test run started", "suite", run.Suite, "run_id", run.RunID, "testCases", len(run.TestCases), "dir", run.RunDir)
}

func (s *squish) TestRunFinished(summary orchestrator.RunSummary) {
	s.summary = &summary
	s.model.ExpandAll()
	if err := s.formatter.FormatResults(summary); err != nil {
		s.config.Log.Error("Failed to print results", "error", err)
	}
	if s.reporter != nil {
		if err := s.reporter.ReportResults(summary, s.model); err != nil {
			s.config.Log.Error("Failed to write run summary", "error", err)
		}
	}
}

func (s *squish) SessionFinished(request types.Request, err error) {
	if s.resumer != nil {
		s.resumer.Stop()
		s.resumer = nil
	}
	select {
	case s.sessions <- sessionResult{request: request, err: err}:
	default:
		s.config.Log.Warn("Dropping session result, none was requested", "request", request, "error", err)
	}
}

func (s *squish) LogLine(source string, line string) {
	s.config.Log.Debug(line, "source", source)
	if s.fileLog == nil {
		return
	}
	if err := s.fileLog.LogLine(source, line); err != nil {
		s.config.Log.Warn("Failed to write log line", "source", source, "error", err)
	}
}

func (s *squish) ResultItemCreated(item *types.ResultItem, parent *types.ResultItem) {
	s.model.Insert(parent, item)
	if s.fileLog == nil {
		return
	}
	if err := s.fileLog.LogResult(item); err != nil {
		s.config.Log.Warn("Failed to write result", "error", err)
	}
}

func (s *squish) StatusUpdated(summary string) {
	s.config.Log.Info(summary)
}

func (s *squish) CounterIncremented(resultType types.ResultType) {}

// Interrupted prints the location. Without a user to step through the
// script the runner is continued once its locals were printed.
func (s *squish) Interrupted(loc types.Location) {
	s.println(ui.Box("Interrupted", []string{loc.String()}, 60))
	if s.resumer != nil {
		s.resumer.Stop()
	}
	s.resumer = time.AfterFunc(localsWait, s.resume)
}

func (s *squish) LocalsUpdated(update types.LocalsUpdate) {
	printVariables(s.config.Out, update.Variables)
	if update.Single || s.resumer == nil {
		return
	}
	s.resumer.Stop()
	s.resumer = nil
	s.resume()
}

// resume leaves an interruption, one line at a time in step mode.
func (s *squish) resume() {
	if s.config.Step {
		s.orch.StepOver()
		return
	}
	s.orch.Continue()
}

func printVariables(w io.Writer, vars []types.Variable) {
	if len(vars) == 0 {
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Name", "Type", "Value"})
	for _, v := range vars {
		t.AppendRow(table.Row{v.Name, v.Type, v.Value})
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}

func (s *squish) AutIDRetrieved(id int) {
	s.config.Log.Info("AUT started", "autID", id)
}

func (s *squish) QueryFinished(output string) {
	s.println(output)
}

func (s *squish) ObjectPicked(object string) {
	s.println(object)
}

func (s *squish) RecordingFinished(snippet string) {
	s.println(snippet)
}

// Host

// Confirm answers the stale server question with --kill-stale-server.
func (s *squish) Confirm(question string) bool {
	s.config.Log.Warn(question, "answer", s.config.KillStaleServer)
	return s.config.KillStaleServer
}

func (s *squish) CriticalMessage(message string) {
	s.criticals = append(s.criticals, message)
	s.config.Log.Error(message)
	if _, err := fmt.Fprintln(os.Stderr, message); err != nil {
		s.config.Log.Warn("Failed to write to stderr", "error", err)
	}
}

func (s *squish) MinimizeWindows() {}

func (s *squish) RestoreWindows() {}

func (s *squish) OpenEditorAt(loc types.Location) {
	s.config.Log.Info("Script interrupted", "location", loc)
}

func (s *squish) SetLocationMarker(loc types.Location) {
	s.config.Log.Debug("Location marker set", "location", loc)
}

func (s *squish) ClearLocationMarker() {
	s.config.Log.Debug("Location marker cleared")
}
