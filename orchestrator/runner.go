package orchestrator

import (
	"context"
	"strings"

	"github.com/ethereum-optimism/infra/op-squish/process"
	"github.com/ethereum-optimism/infra/op-squish/types"
)

// Runner stderr markers.
const (
	invalidSocketMarker = "QSocketNotifier: Invalid socket"
	mappedAutMarker     = "Mapped AUT"
	autNotStartedMarker = "could not be started."
	licenseMarker       = "Couldn't get license"
	unlicensedMarker    = "UNLICENSED version of Squish"
)

// runnerCallbacks forwards the output of one runner process to the loop.
// Events of a replaced process are dropped there.
type runnerCallbacks struct {
	o       *Orchestrator
	id      int
	inspect bool
}

var _ process.RunnerHandler = (*runnerCallbacks)(nil)

func (c *runnerCallbacks) post(fn func()) {
	c.o.loop.Post(func() {
		current := c.o.runnerID
		if c.inspect {
			current = c.o.inspectorID
		}
		if current != c.id {
			c.o.log.Debug("Dropping output of an old runner", "inspect", c.inspect)
			return
		}
		fn()
	})
}

func (c *runnerCallbacks) Interrupted(loc types.Location) {
	if c.inspect {
		return
	}
	c.post(func() { c.o.handlePrompt(loc) })
}

func (c *runnerCallbacks) LocalsUpdated(update types.LocalsUpdate) {
	c.post(func() { c.o.events.LocalsUpdated(update) })
}

func (c *runnerCallbacks) AutIDRetrieved(id int) {
	if c.inspect {
		return
	}
	c.post(func() {
		c.o.autID = id
		c.o.events.AutIDRetrieved(id)
	})
}

func (c *runnerCallbacks) ObjectPicked(object string) {
	c.post(func() { c.o.events.ObjectPicked(object) })
}

func (c *runnerCallbacks) LogOutput(line string) {
	c.post(func() { c.o.events.LogLine(c.source(), line) })
}

func (c *runnerCallbacks) ErrorOutput(line string) {
	if c.inspect {
		c.post(func() { c.o.events.LogLine(SourceInspector, line) })
		return
	}
	c.post(func() { c.o.onRunnerError(line) })
}

func (c *runnerCallbacks) QueryOutput(output string) {
	c.post(func() {
		if p, ok := c.o.phase.(*queryPhase); ok {
			p.output = output
		}
		c.o.events.QueryFinished(output)
	})
}

func (c *runnerCallbacks) source() string {
	if c.inspect {
		return SourceInspector
	}
	return SourceRunner
}

func (o *Orchestrator) startRunner(ctx context.Context, mode process.Mode, opts process.RunnerOptions) {
	id := o.newID()
	o.runnerID = id
	o.runnerMode = mode
	o.runner = o.factory.NewRunner(mode,
		func(s types.ProcessState) { o.loop.Post(func() { o.onRunnerState(id, s) }) },
		&runnerCallbacks{o: o, id: id},
	)
	opts.Port = o.server.Port()
	o.setState(types.StateRunnerStarting)
	o.setRunnerState(types.RunnerStarting)
	o.runner.Start(ctx, opts)
}

func (o *Orchestrator) onRunnerState(id int, s types.ProcessState) {
	if id != o.runnerID {
		o.log.Debug("Dropping event of an old runner", "state", s)
		return
	}
	switch s {
	case types.ProcessStarted:
		o.setState(types.StateRunnerStarted)
		if o.runnerMode == process.ModeRun {
			o.sendBreakpoints()
		}
	case types.ProcessStartFailed:
		o.setState(types.StateRunnerStartFailed)
		o.runner.Close()
		o.runner = nil
		o.critical("Squish runner could not be started.")
		if rp, ok := o.phase.(runPhase); ok {
			o.finishCase(rp.run, errRunnerStartFailed)
		}
		o.requestServerStop(errRunnerStartFailed)
	case types.ProcessStopped:
		o.setState(types.StateRunnerStopped)
		o.onRunnerStopped()
	}
}

// sendBreakpoints transmits the session snapshot once, before the first prompt.
func (o *Orchestrator) sendBreakpoints() {
	for _, bp := range o.breakpoints {
		if err := o.runner.SetBreakpoint(bp.File, bp.Line); err != nil {
			o.log.Error("Failed to set breakpoint", "file", bp.File, "line", bp.Line, "error", err)
		}
	}
}

func (o *Orchestrator) onRunnerStopped() {
	o.debounce.Cancel(varsDebounceKey)
	o.closeInspector()
	o.clearLocation()
	o.setRunnerState(types.RunnerFinished)
	o.runner = nil
	o.runnerID = 0

	var err error
	if o.licenseIssue {
		o.critical("Squish could not get a license. Remaining test cases are skipped.")
		err = errLicense
	}

	switch p := o.phase.(type) {
	case runPhase:
		o.finishCase(p.run, err)
		if len(p.run.queue) > 0 && !o.canceled && err == nil {
			o.startNextCase(p.run)
			return
		}
		o.requestServerStop(err)
	case recordPhase:
		if o.recorder != nil && o.recorder.IsRunning() {
			o.recorder.Stop()
			return
		}
		o.requestServerStop(err)
	case *queryPhase:
		o.requestServerStop(err)
	default:
		o.log.Debug("Runner stopped", "request", o.phase.request())
	}
}

// handlePrompt reacts to a runner prompt. loc is invalid for a bare prompt.
func (o *Orchestrator) handlePrompt(loc types.Location) {
	switch o.runnerState {
	case types.RunnerStarting:
		if o.runnerMode == process.ModeStartAut {
			o.startRecording()
			return
		}
		if hitsBreakpoint(o.breakpoints, loc) {
			o.interruptAt(loc)
			return
		}
		o.writeCommand(process.CommandContinue)
		o.setRunnerState(types.RunnerRunning)
	case types.RunnerCancelRequested, types.RunnerCancelRequestedWhileInterrupted:
		o.writeCommand(process.CommandExit)
		o.clearLocation()
		o.setRunnerState(types.RunnerCanceling)
	case types.RunnerCanceling:
		o.writeCommand(process.CommandQuit)
		o.setRunnerState(types.RunnerCanceled)
	case types.RunnerCanceled:
		o.log.Warn("Unexpected prompt from a canceled runner", "location", loc)
	default:
		if loc.IsValid() {
			o.interruptAt(loc)
			return
		}
		if o.runnerState == types.RunnerInterrupted {
			o.debounce.Trigger(varsDebounceKey, o.cfg.VarsPollInterval, o.requestVariables)
		}
	}
}

func (o *Orchestrator) interruptAt(loc types.Location) {
	o.location = loc
	o.setRunnerState(types.RunnerInterrupted)
	o.host.RestoreWindows()
	o.requestVariables()
	o.host.OpenEditorAt(loc)
	o.host.SetLocationMarker(loc)
	o.events.Interrupted(loc)
}

func (o *Orchestrator) requestVariables() {
	if o.runnerState != types.RunnerInterrupted || o.runner == nil {
		return
	}
	if err := o.runner.RequestVariables(); err != nil {
		o.log.Error("Failed to request variables", "error", err)
	}
}

func (o *Orchestrator) clearLocation() {
	if !o.location.IsValid() {
		return
	}
	o.location = types.Location{}
	o.host.ClearLocationMarker()
}

func (o *Orchestrator) writeCommand(cmd process.Command) {
	if o.runner == nil {
		o.log.Warn("No runner to send command to", "command", cmd)
		return
	}
	if err := o.runner.WriteCommand(cmd); err != nil {
		o.log.Error("Failed to send runner command", "command", cmd, "error", err)
	}
}

// resume continues an interrupted runner with a step or continue command.
func (o *Orchestrator) resume(cmd process.Command) {
	if o.runnerState != types.RunnerInterrupted {
		o.log.Warn("Ignoring runner command, runner is not interrupted", "command", cmd, "runnerState", o.runnerState)
		return
	}
	o.setRunnerState(types.RunnerRunRequested)
	o.debounce.Cancel(varsDebounceKey)
	o.closeInspector()
	o.clearLocation()
	o.writeCommand(cmd)
	if o.cfg.MinimizeOnRun {
		o.host.MinimizeWindows()
	}
	o.setRunnerState(types.RunnerRunning)
}

func (o *Orchestrator) interrupt() {
	if o.runnerState != types.RunnerRunning || o.runner == nil {
		o.log.Warn("Ignoring interrupt, runner is not running", "runnerState", o.runnerState)
		return
	}
	o.setRunnerState(types.RunnerInterruptRequested)
	if err := o.runner.Interrupt(); err != nil {
		o.log.Error("Failed to interrupt runner", "error", err)
		o.setRunnerState(types.RunnerRunning)
	}
}

// cancelRunner winds a run mode runner down. An interrupted runner is told
// to exit right away, a running one is interrupted first.
func (o *Orchestrator) cancelRunner() {
	if o.runnerState.IsCanceling() {
		o.log.Debug("Runner is already canceling", "runnerState", o.runnerState)
		return
	}
	switch o.runnerState {
	case types.RunnerInterrupted:
		o.debounce.Cancel(varsDebounceKey)
		o.setRunnerState(types.RunnerCancelRequestedWhileInterrupted)
		o.handlePrompt(types.Location{Line: -1, Column: -1})
	case types.RunnerRunning, types.RunnerRunRequested, types.RunnerInterruptRequested:
		o.setRunnerState(types.RunnerCancelRequested)
		if o.runner != nil {
			if err := o.runner.Interrupt(); err != nil {
				o.log.Error("Failed to interrupt runner", "error", err)
			}
		}
	case types.RunnerStarting:
		o.setRunnerState(types.RunnerCancelRequested)
	}
}

func (o *Orchestrator) onRunnerError(line string) {
	o.events.LogLine(SourceRunner, line)
	switch {
	case strings.Contains(line, invalidSocketMarker):
		if o.runnerState == types.RunnerInterrupted {
			o.log.Warn("Runner lost its connection while interrupted, canceling", "line", line)
			o.cancel()
		}
	case strings.Contains(line, mappedAutMarker) && strings.Contains(line, autNotStartedMarker):
		o.critical(line)
	case strings.Contains(line, licenseMarker), strings.Contains(line, unlicensedMarker):
		o.licenseIssue = true
	}
}

func (o *Orchestrator) startRecording() {
	p, ok := o.phase.(recordPhase)
	if !ok {
		o.log.Warn("AUT runner prompted outside of a recording", "request", o.phase.request())
		return
	}
	if o.autID == 0 {
		o.critical("Squish did not report the id of the started application.")
		o.setRunnerState(types.RunnerCanceled)
		o.runner.Close()
		o.requestServerStop(errNoAutID)
		return
	}

	id := o.newID()
	o.recorderID = id
	o.recorder = o.factory.NewRecorder(
		func(s types.ProcessState) { o.loop.Post(func() { o.onRecorderState(id, s) }) },
		func(line string) { o.loop.Post(func() { o.events.LogLine(SourceRecorder, line) }) },
	)
	o.recorder.Start(o.ctx(), process.RecorderOptions{
		Port:        o.server.Port(),
		SuiteDir:    p.suite.Dir,
		TestCase:    p.testCase,
		AutID:       o.autID,
		SnippetFile: p.snippetFile,
	})
	o.writeCommand(process.CommandContinue)
	o.setRunnerState(types.RunnerRunning)
}

func (o *Orchestrator) onRecorderState(id int, s types.ProcessState) {
	if id != o.recorderID {
		o.log.Debug("Dropping event of an old recorder", "state", s)
		return
	}
	switch s {
	case types.ProcessStartFailed:
		o.recorder = nil
		o.recorderID = 0
		o.critical("Squish recorder could not be started.")
		o.stopAutRunner(errRecorderStartFailed)
	case types.ProcessStopped:
		snippet, err := o.recorder.Snippet()
		o.recorder = nil
		o.recorderID = 0
		if err != nil {
			o.log.Error("Failed to read recorded snippet", "error", err)
		} else {
			o.events.RecordingFinished(snippet)
		}
		o.stopAutRunner(nil)
	}
}

// stopAutRunner ends a recording once the recorder is gone: the AUT runner
// goes first, the server after it.
func (o *Orchestrator) stopAutRunner(err error) {
	if o.runner != nil && o.runner.IsRunning() {
		o.runner.Close()
		return
	}
	o.requestServerStop(err)
}

func (o *Orchestrator) startInspector() {
	if o.runnerState != types.RunnerInterrupted || o.autID == 0 {
		o.log.Warn("Inspect needs an interrupted runner with a known AUT", "runnerState", o.runnerState, "autID", o.autID)
		return
	}
	rp, ok := o.phase.(runPhase)
	if !ok {
		return
	}
	if o.inspector != nil {
		return
	}
	id := o.newID()
	o.inspectorID = id
	o.inspector = o.factory.NewRunner(process.ModeInspect,
		func(s types.ProcessState) { o.loop.Post(func() { o.onInspectorState(id, s) }) },
		&runnerCallbacks{o: o, id: id, inspect: true},
	)
	o.inspector.Start(o.ctx(), process.RunnerOptions{
		Port:     o.server.Port(),
		SuiteDir: rp.run.suite.Dir,
		AutID:    o.autID,
	})
}

func (o *Orchestrator) onInspectorState(id int, s types.ProcessState) {
	if id != o.inspectorID {
		return
	}
	switch s {
	case types.ProcessStartFailed:
		o.inspector = nil
		o.inspectorID = 0
		o.critical("Squish inspector could not be started.")
	case types.ProcessStopped:
		o.inspector = nil
		o.inspectorID = 0
	}
}

func (o *Orchestrator) writeInspector(write func(RunnerProcess) error) {
	if o.inspector == nil {
		o.log.Warn("No inspector running")
		return
	}
	if err := write(o.inspector); err != nil {
		o.log.Error("Failed to write to inspector", "error", err)
	}
}

func (o *Orchestrator) closeInspector() {
	if o.inspector == nil {
		return
	}
	o.inspector.Close()
	o.inspector = nil
	o.inspectorID = 0
}
