package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/process"
	"github.com/ethereum-optimism/infra/op-squish/suite"
	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

const fakePort = 4711

const passingReport = `<?xml version="1.0" encoding="UTF-8"?>
<SquishReport version="2.1">
    <test name="%[1]s">
        <prolog time="2024-03-01T10:00:00+01:00"/>
        <verification name="" file="/suite/%[1]s/test.py" line="3" type="">
            <result type="PASS" time="2024-03-01T10:00:01+01:00">
                <description>Comparison</description>
            </result>
        </verification>
        <epilog time="2024-03-01T10:00:02+01:00"/>
    </test>
</SquishReport>
`

// callLog records the order of process control calls across handles.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeServer struct {
	log      *callLog
	onState  process.StateHandler
	onOutput process.LineHandler

	running      bool
	startOpts    process.ServerOptions
	configChange []string
	starts       int
	stops        int
	closes       int
}

func (s *fakeServer) Start(_ context.Context, opts process.ServerOptions) {
	s.starts++
	s.startOpts = opts
	s.log.add("server.start")
}

func (s *fakeServer) StartConfigChange(_ context.Context, change []string) {
	s.starts++
	s.configChange = change
	s.log.add("server.config")
}

func (s *fakeServer) Stop() {
	s.stops++
	s.log.add("server.stop")
}

func (s *fakeServer) Close() {
	s.closes++
	s.running = false
	s.log.add("server.close")
}

func (s *fakeServer) IsRunning() bool { return s.running }
func (s *fakeServer) Port() int       { return fakePort }

func (s *fakeServer) fire(state types.ProcessState) {
	switch state {
	case types.ProcessStarted:
		s.running = true
	case types.ProcessStopped, types.ProcessStartFailed:
		s.running = false
	}
	s.onState(state)
}

type fakeRunner struct {
	log     *callLog
	mode    process.Mode
	onState process.StateHandler
	handler process.RunnerHandler

	running     bool
	opts        process.RunnerOptions
	commands    []process.Command
	varsReqs    int
	expansions  []string
	breakpoints []types.Breakpoint
	interrupts  int
	objects     []string
	stops       int
	closes      int
}

func (r *fakeRunner) Start(_ context.Context, opts process.RunnerOptions) {
	r.opts = opts
	r.log.add(fmt.Sprintf("runner.start %s", r.mode))
}

func (r *fakeRunner) Stop() {
	r.stops++
	r.log.add("runner.stop")
}

func (r *fakeRunner) Close() {
	r.closes++
	r.log.add("runner.close")
}

func (r *fakeRunner) IsRunning() bool { return r.running }

func (r *fakeRunner) WriteCommand(cmd process.Command) error {
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *fakeRunner) RequestVariables() error {
	r.varsReqs++
	return nil
}

func (r *fakeRunner) RequestExpansion(name string) error {
	r.expansions = append(r.expansions, name)
	return nil
}

func (r *fakeRunner) SetBreakpoint(file string, line int) error {
	r.breakpoints = append(r.breakpoints, types.Breakpoint{File: file, Line: line, Enabled: true})
	return nil
}

func (r *fakeRunner) ListObjects(value string) error {
	r.objects = append(r.objects, value)
	return nil
}

func (r *fakeRunner) ListProperties(value string) error {
	r.objects = append(r.objects, "properties "+value)
	return nil
}

func (r *fakeRunner) Interrupt() error {
	r.interrupts++
	return nil
}

func (r *fakeRunner) fire(state types.ProcessState) {
	switch state {
	case types.ProcessStarted:
		r.running = true
	case types.ProcessStopped, types.ProcessStartFailed:
		r.running = false
	}
	r.onState(state)
}

type fakeRecorder struct {
	log     *callLog
	onState process.StateHandler

	running bool
	opts    process.RecorderOptions
	snippet string
	stops   int
	closes  int
}

func (r *fakeRecorder) Start(_ context.Context, opts process.RecorderOptions) {
	r.opts = opts
	r.running = true
	r.log.add("recorder.start")
}

func (r *fakeRecorder) Stop() {
	r.stops++
	r.log.add("recorder.stop")
}

func (r *fakeRecorder) Close() {
	r.closes++
	r.log.add("recorder.close")
}

func (r *fakeRecorder) IsRunning() bool { return r.running }

func (r *fakeRecorder) Snippet() (string, error) { return r.snippet, nil }

func (r *fakeRecorder) fire(state types.ProcessState) {
	if state.IsTerminal() {
		r.running = false
	}
	r.onState(state)
}

type fakeFactory struct {
	log       callLog
	servers   []*fakeServer
	runners   []*fakeRunner
	recorders []*fakeRecorder
	snippet   string
}

func (f *fakeFactory) NewServer(onState process.StateHandler, onOutput process.LineHandler) ServerProcess {
	s := &fakeServer{log: &f.log, onState: onState, onOutput: onOutput}
	f.servers = append(f.servers, s)
	return s
}

func (f *fakeFactory) NewRunner(mode process.Mode, onState process.StateHandler, handler process.RunnerHandler) RunnerProcess {
	r := &fakeRunner{log: &f.log, mode: mode, onState: onState, handler: handler}
	f.runners = append(f.runners, r)
	return r
}

func (f *fakeFactory) NewRecorder(onState process.StateHandler, _ process.LineHandler) RecorderProcess {
	r := &fakeRecorder{log: &f.log, onState: onState, snippet: f.snippet}
	f.recorders = append(f.recorders, r)
	return r
}

type stateChange struct {
	state   types.OrchestratorState
	request types.Request
}

type sessionEnd struct {
	request types.Request
	err     error
}

// recordingEvents keeps every notification. Result items arrive from the
// parser goroutine, hence the lock.
type recordingEvents struct {
	mu           sync.Mutex
	states       []stateChange
	runnerStates []types.RunnerState
	sessions     []sessionEnd
	started      []RunInfo
	finished     []RunSummary
	items        []*types.ResultItem
	interrupts   []types.Location
	queries      []string
	snippets     []string
	logLines     []string
}

var _ Events = (*recordingEvents)(nil)

func (e *recordingEvents) StateChanged(state types.OrchestratorState, request types.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, stateChange{state: state, request: request})
}

func (e *recordingEvents) RunnerStateChanged(state types.RunnerState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runnerStates = append(e.runnerStates, state)
}

func (e *recordingEvents) TestRunStarted(run RunInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, run)
}

func (e *recordingEvents) TestRunFinished(summary RunSummary) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finished = append(e.finished, summary)
}

func (e *recordingEvents) SessionFinished(request types.Request, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, sessionEnd{request: request, err: err})
}

func (e *recordingEvents) LogLine(source string, line string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logLines = append(e.logLines, source+": "+line)
}

func (e *recordingEvents) ResultItemCreated(item *types.ResultItem, _ *types.ResultItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.items = append(e.items, item)
}

func (e *recordingEvents) StatusUpdated(string) {}

func (e *recordingEvents) CounterIncremented(types.ResultType) {}

func (e *recordingEvents) Interrupted(loc types.Location) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interrupts = append(e.interrupts, loc)
}

func (e *recordingEvents) LocalsUpdated(types.LocalsUpdate) {}

func (e *recordingEvents) AutIDRetrieved(int) {}

func (e *recordingEvents) QueryFinished(output string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queries = append(e.queries, output)
}

func (e *recordingEvents) ObjectPicked(string) {}

func (e *recordingEvents) RecordingFinished(snippet string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snippets = append(e.snippets, snippet)
}

type fakeHost struct {
	confirm   bool
	questions []string
	critical  []string
	editorAt  []types.Location
	markers   []types.Location
	cleared   int
	minimized int
	restored  int
}

var _ Host = (*fakeHost)(nil)

func (h *fakeHost) Confirm(question string) bool {
	h.questions = append(h.questions, question)
	return h.confirm
}

func (h *fakeHost) CriticalMessage(message string) {
	h.critical = append(h.critical, message)
}

func (h *fakeHost) MinimizeWindows()                     { h.minimized++ }
func (h *fakeHost) RestoreWindows()                      { h.restored++ }
func (h *fakeHost) OpenEditorAt(loc types.Location)      { h.editorAt = append(h.editorAt, loc) }
func (h *fakeHost) SetLocationMarker(loc types.Location) { h.markers = append(h.markers, loc) }
func (h *fakeHost) ClearLocationMarker()                 { h.cleared++ }

type harness struct {
	t       *testing.T
	o       *Orchestrator
	factory *fakeFactory
	events  *recordingEvents
	host    *fakeHost
	suite   *suite.Suite
	results string
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	suiteDir := filepath.Join(t.TempDir(), "suite_demo")
	for _, tc := range []string{"tst_a", "tst_b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(suiteDir, tc), 0o755))
	}
	h := &harness{
		t:       t,
		factory: &fakeFactory{snippet: "clickButton(waitForObject(names.ok))"},
		events:  &recordingEvents{},
		host:    &fakeHost{},
		results: t.TempDir(),
		suite: &suite.Suite{
			Dir:       suiteDir,
			Name:      "demo",
			AUT:       "addressbook",
			Language:  "Python",
			TestCases: []string{"tst_a", "tst_b"},
		},
	}
	cfg := Config{
		Log:              log.NewLogger(log.DiscardHandler()),
		Factory:          h.factory,
		Events:           h.events,
		Host:             h.host,
		ResultsDir:       h.results,
		VarsPollInterval: 10 * time.Millisecond,
		Now:              func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	o, err := New(cfg)
	require.NoError(t, err)
	h.o = o
	return h
}

func (h *harness) drain() {
	h.o.loop.RunPending()
}

func (h *harness) server(i int) *fakeServer {
	h.t.Helper()
	require.Greater(h.t, len(h.factory.servers), i, "server %d was not created", i)
	return h.factory.servers[i]
}

func (h *harness) runner(i int) *fakeRunner {
	h.t.Helper()
	require.Greater(h.t, len(h.factory.runners), i, "runner %d was not created", i)
	return h.factory.runners[i]
}

func (h *harness) recorder(i int) *fakeRecorder {
	h.t.Helper()
	require.Greater(h.t, len(h.factory.recorders), i, "recorder %d was not created", i)
	return h.factory.recorders[i]
}

func (h *harness) fireServer(i int, s types.ProcessState) {
	h.server(i).fire(s)
	h.drain()
}

func (h *harness) fireRunner(i int, s types.ProcessState) {
	h.runner(i).fire(s)
	h.drain()
}

func (h *harness) prompt(i int, loc types.Location) {
	h.runner(i).handler.Interrupted(loc)
	h.drain()
}

func (h *harness) sessions() []sessionEnd {
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	return append([]sessionEnd(nil), h.events.sessions...)
}

func (h *harness) summaries() []RunSummary {
	h.events.mu.Lock()
	defer h.events.mu.Unlock()
	return append([]RunSummary(nil), h.events.finished...)
}

// startRunCase runs the suite until the runner of the first case started.
func (h *harness) startRunCase(cases ...string) *fakeRunner {
	h.t.Helper()
	h.o.RunTestCases(h.suite, cases)
	h.drain()
	h.fireServer(0, types.ProcessStarted)
	h.fireRunner(0, types.ProcessStarted)
	return h.runner(0)
}
