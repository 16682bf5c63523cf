package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/metrics"
	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultStartTimeout = 30 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var errNotRunning = errors.New("process is not running")

// CommandBuilder creates the command for a child process.
type CommandBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd

// HelperFunc runs a short-lived auxiliary command to completion.
type HelperFunc func(ctx context.Context, name string, arg ...string) error

// StateHandler receives state changes. It is called from process goroutines
// and must not block.
type StateHandler func(types.ProcessState)

// LineHandler receives one line of process output without its line ending.
type LineHandler func(line string)

// Config holds the settings shared by all Squish child processes.
type Config struct {
	Log        log.Logger
	CmdBuilder CommandBuilder
	Helper     HelperFunc
	// Env is appended to the environment of the current process.
	Env     []string
	WorkDir string
	// InterruptHelper pauses a running runner when set (invoked as "<helper> <pid>").
	InterruptHelper string
	StartTimeout    time.Duration
	StopTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.Log == nil {
		c.Log = log.New()
		c.Log.Error("No logger provided, using default")
	}
	if c.CmdBuilder == nil {
		c.CmdBuilder = exec.CommandContext
	}
	if c.Helper == nil {
		builder := c.CmdBuilder
		c.Helper = func(ctx context.Context, name string, arg ...string) error {
			return builder(ctx, name, arg...).Run()
		}
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = DefaultStartTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

// launchOpts describes a single launch of a Base process.
type launchOpts struct {
	args   []string
	stdout io.Writer
	stderr io.Writer
	stdin  bool
	// ready reports Started as soon as the OS process runs.
	ready bool
	// onExit runs after the process was reaped and before the final state is reported.
	onExit func(err error)
}

type flusher interface {
	Flush()
}

// Base owns one OS process at a time and reports its lifecycle through a
// StateHandler. Start failures are reported as StartFailed, never returned.
type Base struct {
	name    string
	binary  string
	cfg     Config
	onState StateHandler

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	state    types.ProcessState
	done     chan struct{}
	exitErr  error
	stopping bool
}

func newBase(name, binary string, cfg Config, onState StateHandler) *Base {
	cfg.applyDefaults()
	done := make(chan struct{})
	close(done)
	return &Base{
		name:    name,
		binary:  binary,
		cfg:     cfg,
		onState: onState,
		state:   types.ProcessIdle,
		done:    done,
	}
}

// Name is the short process name used in logs and metrics.
func (b *Base) Name() string {
	return b.name
}

// State returns the last reported state.
func (b *Base) State() types.ProcessState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsRunning reports whether an OS process is currently alive.
func (b *Base) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cmd != nil
}

// Pid returns the OS process id, or 0 when nothing runs.
func (b *Base) Pid() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}
	return b.cmd.Process.Pid
}

// Done is closed once the current OS process was reaped.
func (b *Base) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// ExitErr returns the error of the last process exit.
func (b *Base) ExitErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitErr
}

func (b *Base) setState(s types.ProcessState) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()
	b.notify(prev, s)
}

// transition moves from one state to another only if the process is still
// in the expected state.
func (b *Base) transition(from, to types.ProcessState) bool {
	b.mu.Lock()
	if b.state != from {
		b.mu.Unlock()
		return false
	}
	b.state = to
	b.mu.Unlock()
	b.notify(from, to)
	return true
}

func (b *Base) notify(prev, s types.ProcessState) {
	if prev == s {
		return
	}
	b.cfg.Log.Debug("Process state changed", "process", b.name, "from", prev, "to", s)
	if b.onState != nil {
		b.onState(s)
	}
}

func (b *Base) launch(ctx context.Context, opts launchOpts) error {
	b.mu.Lock()
	if b.cmd != nil {
		b.mu.Unlock()
		return fmt.Errorf("%s is already running", b.name)
	}
	b.stopping = false
	b.exitErr = nil
	b.mu.Unlock()

	b.setState(types.ProcessStarting)

	cmd := b.cfg.CmdBuilder(ctx, b.binary, opts.args...)
	cmd.Dir = b.cfg.WorkDir
	cmd.Env = telemetry.InstrumentEnvironment(ctx, append(os.Environ(), b.cfg.Env...))
	cmd.Stdout = opts.stdout
	cmd.Stderr = opts.stderr
	// grandchildren such as the AUT may keep the output pipes open
	cmd.WaitDelay = b.cfg.StopTimeout

	var stdin io.WriteCloser
	if opts.stdin {
		var err error
		stdin, err = cmd.StdinPipe()
		if err != nil {
			b.failStart(err)
			return fmt.Errorf("failed to open stdin of %s: %w", b.name, err)
		}
	}

	b.cfg.Log.Info("Starting process", "process", b.name, "binary", b.binary, "args", opts.args)
	if err := cmd.Start(); err != nil {
		b.failStart(err)
		return fmt.Errorf("failed to start %s: %w", b.name, err)
	}
	metrics.RecordProcessStart(b.name, true)

	done := make(chan struct{})
	b.mu.Lock()
	b.cmd = cmd
	b.stdin = stdin
	b.done = done
	b.mu.Unlock()

	if opts.ready {
		b.transition(types.ProcessStarting, types.ProcessStarted)
	}
	go b.wait(cmd, done, opts)
	return nil
}

func (b *Base) failStart(err error) {
	b.cfg.Log.Error("Failed to start process", "process", b.name, "binary", b.binary, "error", err)
	metrics.RecordProcessStart(b.name, false)
	b.setState(types.ProcessStartFailed)
}

func (b *Base) wait(cmd *exec.Cmd, done chan struct{}, opts launchOpts) {
	err := cmd.Wait()
	for _, w := range []io.Writer{opts.stdout, opts.stderr} {
		if f, ok := w.(flusher); ok {
			f.Flush()
		}
	}

	exitCode := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	b.cfg.Log.Debug("Process exited", "process", b.name, "exitCode", exitCode, "error", err)

	b.mu.Lock()
	prev := b.state
	b.cmd = nil
	b.stdin = nil
	b.exitErr = err
	b.mu.Unlock()
	close(done)

	if opts.onExit != nil {
		opts.onExit(err)
	}
	if prev == types.ProcessStarting {
		b.setState(types.ProcessStartFailed)
		return
	}
	b.setState(types.ProcessStopped)
}

// Stop asks the process to terminate and kills it if it is still alive after
// the stop timeout. Calling Stop more than once is safe.
func (b *Base) Stop() {
	b.mu.Lock()
	cmd, done := b.cmd, b.done
	if cmd == nil || b.stopping {
		b.mu.Unlock()
		return
	}
	b.stopping = true
	b.mu.Unlock()

	b.cfg.Log.Debug("Stopping process", "process", b.name)
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		_ = cmd.Process.Kill()
		return
	}
	go func() {
		select {
		case <-done:
		case <-time.After(b.cfg.StopTimeout):
			b.cfg.Log.Warn("Process did not stop in time, killing it", "process", b.name)
			_ = cmd.Process.Kill()
		}
	}()
}

// Close kills the process right away. Calling Close more than once is safe.
func (b *Base) Close() {
	b.mu.Lock()
	cmd := b.cmd
	b.stopping = true
	b.mu.Unlock()
	if cmd == nil {
		return
	}
	b.cfg.Log.Debug("Killing process", "process", b.name)
	_ = cmd.Process.Kill()
}

func (b *Base) writeLine(line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stdin == nil {
		return errNotRunning
	}
	b.cfg.Log.Debug("Writing to process", "process", b.name, "line", line)
	if _, err := io.WriteString(b.stdin, line+"\n"); err != nil {
		return fmt.Errorf("failed to write to %s: %w", b.name, err)
	}
	return nil
}
