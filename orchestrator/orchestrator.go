package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/metrics"
	"github.com/ethereum-optimism/infra/op-squish/process"
	"github.com/ethereum-optimism/infra/op-squish/suite"
	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Log line sources passed to Events.LogLine.
const (
	SourceServer    = "squishserver"
	SourceRunner    = "squishrunner"
	SourceRecorder  = "squishrecorder"
	SourceInspector = "inspector"
)

const DefaultVarsPollInterval = 500 * time.Millisecond

const varsDebounceKey = "variables"

var (
	errServerStartFailed   = errors.New("squish server could not be started")
	errServerStopFailed    = errors.New("squish server could not be stopped")
	errServerExited        = errors.New("squish server stopped unexpectedly")
	errRunnerStartFailed   = errors.New("squish runner could not be started")
	errRecorderStartFailed = errors.New("squish recorder could not be started")
	errNoAutID             = errors.New("no AUT id was reported by the runner")
	errLicense             = errors.New("squish could not get a license")
	errCanceled            = errors.New("session canceled")
	errSessionActive       = errors.New("a squish session is already active")
	errServerKept          = errors.New("a squish server from an earlier session is still running")
)

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Log     log.Logger
	Factory ProcessFactory
	Events  Events
	Host    Host
	// Breakpoints are snapshotted when a runner session starts.
	Breakpoints *Breakpoints

	// ServerPort 0 lets the server pick its port.
	ServerPort    int
	ServerVerbose bool
	ResultsDir    string
	// KeepResults is the number of run directories kept per suite, 0 keeps all.
	KeepResults      int
	MinimizeOnRun    bool
	VarsPollInterval time.Duration
	Now              func() time.Time
}

// Orchestrator drives the squishserver and squishrunner processes of a test
// session. All state changes happen on its event loop.
type Orchestrator struct {
	log      log.Logger
	cfg      Config
	events   Events
	host     Host
	factory  ProcessFactory
	loop     *Loop
	debounce *Debouncer
	tracer   trace.Tracer
	baseCtx  context.Context

	// owned by the event loop
	phase        phase
	state        types.OrchestratorState
	runnerState  types.RunnerState
	lastID       int
	server       ServerProcess
	serverID     int
	runner       RunnerProcess
	runnerID     int
	runnerMode   process.Mode
	recorder     RecorderProcess
	recorderID   int
	inspector    RunnerProcess
	inspectorID  int
	breakpoints  []types.Breakpoint
	autID        int
	location     types.Location
	canceled     bool
	licenseIssue bool

	mu   sync.Mutex
	view view
}

type view struct {
	state       types.OrchestratorState
	request     types.Request
	runnerState types.RunnerState
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Factory == nil {
		return nil, errors.New("process factory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}
	if cfg.Host == nil {
		cfg.Host = NopHost{}
	}
	if cfg.Breakpoints == nil {
		cfg.Breakpoints = NewBreakpoints()
	}
	if cfg.VarsPollInterval <= 0 {
		cfg.VarsPollInterval = DefaultVarsPollInterval
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = os.TempDir()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	loop := NewLoop()
	o := &Orchestrator{
		log:         cfg.Log,
		cfg:         cfg,
		events:      cfg.Events,
		host:        cfg.Host,
		factory:     cfg.Factory,
		loop:        loop,
		debounce:    NewDebouncer(loop),
		tracer:      otel.Tracer("squish orchestrator"),
		baseCtx:     context.Background(),
		phase:       idlePhase{},
		state:       types.StateIdle,
		runnerState: types.RunnerNone,
	}
	o.view = view{state: types.StateIdle, request: types.RequestNone, runnerState: types.RunnerNone}
	return o, nil
}

// Run processes events until ctx is done, then closes every child process.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.baseCtx = ctx
	err := o.loop.Run(ctx)
	o.shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (o *Orchestrator) State() types.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view.state
}

func (o *Orchestrator) Request() types.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view.request
}

func (o *Orchestrator) RunnerState() types.RunnerState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view.runnerState
}

// RunTestCases runs the given test cases of a suite in order, or every test
// case of the suite when none are given.
func (o *Orchestrator) RunTestCases(s *suite.Suite, testCases []string) {
	o.loop.Post(func() {
		if len(testCases) == 0 {
			testCases = s.TestCases
		}
		if len(testCases) == 0 {
			o.critical(fmt.Sprintf("Suite %s has no test cases.", s.Name))
			o.events.SessionFinished(types.RequestRunTest, fmt.Errorf("suite %s has no test cases", s.Name))
			return
		}
		o.startRequest(runPhase{run: newSuiteRun(s, testCases)})
	})
}

// RecordTestCase starts the suite's AUT and records into a snippet until the
// session is stopped or the AUT exits.
func (o *Orchestrator) RecordTestCase(s *suite.Suite, testCase string) {
	o.loop.Post(func() {
		o.startRequest(recordPhase{suite: s, testCase: testCase})
	})
}

// QueryServerInfo asks the server for its configuration ("--info all").
func (o *Orchestrator) QueryServerInfo() {
	o.loop.Post(func() {
		o.startRequest(&queryPhase{args: []string{"--info", "all"}})
	})
}

func (o *Orchestrator) QueryGlobalScriptDirs() {
	o.loop.Post(func() {
		o.startRequest(&queryPhase{args: []string{"--config", "getGlobalScriptDirs"}})
	})
}

func (o *Orchestrator) SetGlobalScriptDirs(dirs []string) {
	args := append([]string{"--config", "setGlobalScriptDirs"}, dirs...)
	o.loop.Post(func() {
		o.startRequest(&queryPhase{args: args})
	})
}

// ChangeServerConfig applies each change with its own "squishserver --config" run.
func (o *Orchestrator) ChangeServerConfig(changes [][]string) {
	o.loop.Post(func() {
		if len(changes) == 0 {
			o.events.SessionFinished(types.RequestServerConfigChange, nil)
			return
		}
		if _, idle := o.phase.(idlePhase); !idle {
			o.critical("Cannot change the server configuration while a session is active.")
			return
		}
		o.begin(&configPhase{changes: changes})
	})
}

// StopTestRun cancels the active session.
func (o *Orchestrator) StopTestRun() {
	o.loop.Post(o.cancel)
}

func (o *Orchestrator) Continue() {
	o.loop.Post(func() { o.resume(process.CommandContinue) })
}

func (o *Orchestrator) StepInto() {
	o.loop.Post(func() { o.resume(process.CommandStepIn) })
}

func (o *Orchestrator) StepOver() {
	o.loop.Post(func() { o.resume(process.CommandStepOver) })
}

func (o *Orchestrator) StepOut() {
	o.loop.Post(func() { o.resume(process.CommandStepOut) })
}

// Interrupt pauses a running test script.
func (o *Orchestrator) Interrupt() {
	o.loop.Post(o.interrupt)
}

// RequestExpansion asks for the children of a symbol of the locals table.
func (o *Orchestrator) RequestExpansion(name string) {
	o.loop.Post(func() {
		if o.runnerState != types.RunnerInterrupted || o.runner == nil {
			o.log.Warn("Ignoring expansion request, runner is not interrupted", "symbol", name, "runnerState", o.runnerState)
			return
		}
		if err := o.runner.RequestExpansion(name); err != nil {
			o.log.Error("Failed to request symbol expansion", "symbol", name, "error", err)
		}
	})
}

// RequestInspect starts an inspector attached to the AUT of the interrupted run.
func (o *Orchestrator) RequestInspect() {
	o.loop.Post(o.startInspector)
}

func (o *Orchestrator) ListObjects(value string) {
	o.loop.Post(func() { o.writeInspector(func(r RunnerProcess) error { return r.ListObjects(value) }) })
}

func (o *Orchestrator) ListProperties(value string) {
	o.loop.Post(func() { o.writeInspector(func(r RunnerProcess) error { return r.ListProperties(value) }) })
}

func (o *Orchestrator) ctx() context.Context {
	if o.baseCtx == nil {
		return context.Background()
	}
	return o.baseCtx
}

func (o *Orchestrator) newID() int {
	o.lastID++
	return o.lastID
}

func (o *Orchestrator) setState(s types.OrchestratorState) {
	o.state = s
	o.publish()
}

func (o *Orchestrator) setPhase(p phase) {
	o.phase = p
	o.publish()
}

func (o *Orchestrator) publish() {
	v := view{state: o.state, request: o.phase.request(), runnerState: o.runnerState}
	o.mu.Lock()
	prev := o.view
	o.view = v
	o.mu.Unlock()
	if prev.state != v.state || prev.request != v.request {
		o.log.Debug("Orchestrator state changed", "state", v.state, "request", v.request)
		o.events.StateChanged(v.state, v.request)
	}
}

func (o *Orchestrator) setRunnerState(s types.RunnerState) {
	if o.runnerState == s {
		return
	}
	o.runnerState = s
	o.mu.Lock()
	o.view.runnerState = s
	o.mu.Unlock()
	o.log.Debug("Runner state changed", "state", s)
	o.events.RunnerStateChanged(s)
}

func (o *Orchestrator) critical(msg string) {
	o.log.Error(msg)
	metrics.RecordError("critical")
	o.host.CriticalMessage(msg)
}

// startRequest begins a session unless one is active. A server left over
// from an earlier session is stopped first when the user agrees.
func (o *Orchestrator) startRequest(p phase) {
	if _, idle := o.phase.(idlePhase); !idle {
		o.critical(fmt.Sprintf("Cannot start %s, a session is already active (%s).", p.request(), o.phase.request()))
		o.events.SessionFinished(p.request(), errSessionActive)
		return
	}
	if o.server != nil && o.server.IsRunning() {
		if !o.host.Confirm("A Squish server from an earlier session is still running. Stop it and continue?") {
			o.log.Info("Keeping the running squish server, request dropped", "request", p.request())
			o.events.SessionFinished(p.request(), errServerKept)
			return
		}
		o.setPhase(killOldPhase{retry: p})
		o.server.Stop()
		return
	}
	o.begin(p)
}

func (o *Orchestrator) begin(p phase) {
	o.canceled = false
	o.licenseIssue = false
	o.autID = 0
	o.location = types.Location{}
	o.breakpoints = nil

	switch cur := p.(type) {
	case runPhase:
		if err := o.prepareRun(cur.run); err != nil {
			o.critical(fmt.Sprintf("Could not prepare the results directory: %v", err))
			o.events.SessionFinished(p.request(), err)
			return
		}
	case recordPhase:
		f, err := os.CreateTemp("", "squish-snippet-*.txt")
		if err != nil {
			o.critical(fmt.Sprintf("Could not create the snippet file: %v", err))
			o.events.SessionFinished(p.request(), err)
			return
		}
		_ = f.Close()
		cur.snippetFile = f.Name()
		p = cur
	}

	o.setPhase(p)
	if rp, ok := p.(runPhase); ok {
		o.events.TestRunStarted(rp.run.info)
	}
	o.startServer()
}

// finish returns to idle. Every session ends here.
func (o *Orchestrator) finish(request types.Request, err error) {
	o.debounce.CancelAll()
	o.setRunnerState(types.RunnerNone)
	o.phase = idlePhase{}
	o.setState(types.StateIdle)
	o.log.Info("Squish session finished", "request", request, "error", err)
	o.events.SessionFinished(request, err)
}

// endSession runs the per request completion work and returns to idle.
func (o *Orchestrator) endSession(p phase, err error) {
	switch cur := p.(type) {
	case runPhase:
		if err == nil && o.licenseIssue {
			err = errLicense
		}
		o.completeRun(cur.run, err)
	case recordPhase:
		_ = os.Remove(cur.snippetFile)
	}
	o.finish(p.request(), err)
}

func (o *Orchestrator) startServer() {
	id := o.newID()
	o.serverID = id
	o.server = o.factory.NewServer(
		func(s types.ProcessState) { o.loop.Post(func() { o.onServerState(id, s) }) },
		func(line string) { o.loop.Post(func() { o.events.LogLine(SourceServer, line) }) },
	)
	o.setState(types.StateServerStarting)
	if cp, ok := o.phase.(*configPhase); ok {
		o.server.StartConfigChange(o.ctx(), cp.changes[cp.next])
		return
	}
	o.server.Start(o.ctx(), process.ServerOptions{Port: o.cfg.ServerPort, Verbose: o.cfg.ServerVerbose})
}

func (o *Orchestrator) onServerState(id int, s types.ProcessState) {
	if id != o.serverID {
		o.log.Debug("Dropping event of an old server", "state", s)
		return
	}
	if _, idle := o.phase.(idlePhase); idle {
		o.log.Debug("Server state changed while idle", "state", s)
		return
	}

	switch s {
	case types.ProcessStarted:
		o.setState(types.StateServerStarted)
		o.onServerStarted()
	case types.ProcessStartFailed:
		o.setState(types.StateServerStartFailed)
		o.server.Close()
		o.critical("Squish server could not be started.")
		o.host.RestoreWindows()
		o.endSession(o.sessionPhase(), errServerStartFailed)
	case types.ProcessStopped:
		o.setState(types.StateServerStopped)
		o.onServerStopped(nil)
	case types.ProcessStopFailed:
		o.setState(types.StateServerStopFailed)
		o.server.Close()
		o.onServerStopped(errServerStopFailed)
	}
}

// sessionPhase is the phase that started the session, looking through a
// pending server stop.
func (o *Orchestrator) sessionPhase() phase {
	if sp, ok := o.phase.(stopPhase); ok {
		return sp.prev
	}
	return o.phase
}

func (o *Orchestrator) onServerStarted() {
	if _, ok := o.phase.(*configPhase); ok {
		// one-shot, completes when it exits
		return
	}
	if o.canceled {
		o.requestServerStop(nil)
		return
	}
	switch p := o.phase.(type) {
	case runPhase:
		o.startNextCase(p.run)
	case recordPhase:
		o.startRunner(o.ctx(), process.ModeStartAut, process.RunnerOptions{
			SuiteDir: p.suite.Dir,
			Aut:      p.suite.AUT,
		})
	case *queryPhase:
		o.startRunner(o.ctx(), process.ModeQueryServer, process.RunnerOptions{QueryArgs: p.args})
	default:
		o.log.Warn("Server started without a pending request", "request", o.phase.request())
	}
}

func (o *Orchestrator) onServerStopped(err error) {
	switch p := o.phase.(type) {
	case killOldPhase:
		o.server = nil
		if o.canceled {
			o.finish(p.retry.request(), errCanceled)
			return
		}
		o.log.Info("Old squish server stopped, retrying request", "request", p.retry.request())
		o.begin(p.retry)
	case *configPhase:
		if err != nil {
			o.critical("Could not apply the server configuration change.")
			o.endSession(p, err)
			return
		}
		p.next++
		if p.next < len(p.changes) && !o.canceled {
			o.startServer()
			return
		}
		o.endSession(p, nil)
	case stopPhase:
		if err != nil {
			o.critical("Squish server could not be stopped.")
		}
		if p.err != nil {
			err = p.err
		}
		o.endSession(p.prev, err)
	default:
		if err == nil {
			err = errServerExited
		}
		o.critical("Squish server stopped unexpectedly.")
		o.closeChildren()
		o.endSession(p, err)
	}
}

// requestServerStop stops the server and ends the session once it is gone.
func (o *Orchestrator) requestServerStop(err error) {
	if sp, ok := o.phase.(stopPhase); ok {
		if sp.err == nil && err != nil {
			sp.err = err
			o.phase = sp
		}
		return
	}
	prev := o.phase
	o.setPhase(stopPhase{prev: prev, err: err})
	if o.server == nil || !o.server.IsRunning() {
		o.endSession(prev, err)
		return
	}
	o.server.Stop()
}

// cancel stops the active session.
func (o *Orchestrator) cancel() {
	switch o.phase.(type) {
	case idlePhase:
		return
	case runPhase:
		o.canceled = true
		o.closeInspector()
		o.cancelRunner()
	case recordPhase:
		o.canceled = true
		switch {
		case o.recorder != nil && o.recorder.IsRunning():
			o.recorder.Stop()
		case o.runner != nil && o.runner.IsRunning():
			o.runner.Close()
		}
	case *queryPhase:
		o.canceled = true
		if o.runner != nil && o.runner.IsRunning() {
			o.runner.Close()
		}
	default:
		o.canceled = true
	}
	o.log.Info("Session cancel requested", "request", o.phase.request(), "runnerState", o.runnerState)
}

// closeChildren kills every runner side process of the session.
func (o *Orchestrator) closeChildren() {
	o.closeInspector()
	if o.recorder != nil {
		o.recorder.Close()
		o.recorder = nil
		o.recorderID = 0
	}
	if o.runner != nil {
		o.runner.Close()
		o.runner = nil
		o.runnerID = 0
	}
}

func (o *Orchestrator) shutdown() {
	o.debounce.CancelAll()
	o.closeChildren()
	if rp, ok := o.sessionPhase().(runPhase); ok {
		o.closeCase(rp.run)
	}
	if o.server != nil && o.server.IsRunning() {
		o.server.Stop()
		o.server.Close()
	}
}
