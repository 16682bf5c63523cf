package orchestrator

import (
	"context"

	"github.com/ethereum-optimism/infra/op-squish/process"
)

// ServerProcess is the part of process.Server the orchestrator drives.
type ServerProcess interface {
	Start(ctx context.Context, opts process.ServerOptions)
	StartConfigChange(ctx context.Context, change []string)
	Stop()
	Close()
	IsRunning() bool
	Port() int
}

// RunnerProcess is the part of process.Runner the orchestrator drives.
type RunnerProcess interface {
	Start(ctx context.Context, opts process.RunnerOptions)
	Stop()
	Close()
	IsRunning() bool
	WriteCommand(cmd process.Command) error
	RequestVariables() error
	RequestExpansion(name string) error
	SetBreakpoint(file string, line int) error
	ListObjects(value string) error
	ListProperties(value string) error
	Interrupt() error
}

// RecorderProcess is the part of process.Recorder the orchestrator drives.
type RecorderProcess interface {
	Start(ctx context.Context, opts process.RecorderOptions)
	Stop()
	Close()
	IsRunning() bool
	Snippet() (string, error)
}

// ProcessFactory creates the child process handles of a session.
type ProcessFactory interface {
	NewServer(onState process.StateHandler, onOutput process.LineHandler) ServerProcess
	NewRunner(mode process.Mode, onState process.StateHandler, handler process.RunnerHandler) RunnerProcess
	NewRecorder(onState process.StateHandler, onOutput process.LineHandler) RecorderProcess
}

type execFactory struct {
	serverBinary string
	runnerBinary string
	cfg          process.Config
}

// NewProcessFactory creates real squishserver and squishrunner processes.
func NewProcessFactory(serverBinary, runnerBinary string, cfg process.Config) ProcessFactory {
	return &execFactory{serverBinary: serverBinary, runnerBinary: runnerBinary, cfg: cfg}
}

func (f *execFactory) NewServer(onState process.StateHandler, onOutput process.LineHandler) ServerProcess {
	return process.NewServer(f.serverBinary, f.cfg, onState, onOutput)
}

func (f *execFactory) NewRunner(mode process.Mode, onState process.StateHandler, handler process.RunnerHandler) RunnerProcess {
	return process.NewRunner(f.runnerBinary, mode, f.cfg, onState, handler)
}

func (f *execFactory) NewRecorder(onState process.StateHandler, onOutput process.LineHandler) RecorderProcess {
	return process.NewRecorder(f.runnerBinary, f.cfg, onState, onOutput)
}
