package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

// Mode selects what a runner process is launched for. It is fixed for the
// lifetime of a Runner.
type Mode string

const (
	ModeRun         Mode = "run"
	ModeStartAut    Mode = "start-aut"
	ModeQueryServer Mode = "query-server"
	ModeInspect     Mode = "inspect"
)

// RunnerHandler receives the parsed output of a runner. Methods are called
// from process goroutines.
type RunnerHandler interface {
	// Interrupted reports a prompt. The location is invalid for a bare prompt.
	Interrupted(loc types.Location)
	LocalsUpdated(update types.LocalsUpdate)
	AutIDRetrieved(id int)
	ObjectPicked(object string)
	LogOutput(line string)
	ErrorOutput(line string)
	// QueryOutput delivers the complete output of a query runner before it reports Stopped.
	QueryOutput(output string)
}

// RunnerOptions holds the values used to build a runner command line.
type RunnerOptions struct {
	Port       int
	SuiteDir   string
	TestCase   string
	ReportFile string
	Aut        string
	AutArgs    []string
	// QueryArgs follow the shared arguments of a query runner, e.g. "--info all".
	QueryArgs []string
	AutID     int
}

// RunnerArgs builds the squishrunner command line for a mode.
func RunnerArgs(mode Mode, opts RunnerOptions) ([]string, error) {
	if opts.Port <= 0 {
		return nil, errors.New("server port is required")
	}
	args := []string{"--port", strconv.Itoa(opts.Port), "--debugLog", "alpw"}

	switch mode {
	case ModeRun:
		if opts.SuiteDir == "" || opts.TestCase == "" || opts.ReportFile == "" {
			return nil, errors.New("suite directory, test case and report file are required")
		}
		args = append(args, "--debug", "--ide", "--suitedir", opts.SuiteDir, "--testcase", opts.TestCase,
			"--reportgen", "xml2.2,"+opts.ReportFile)
	case ModeStartAut:
		if opts.SuiteDir == "" || opts.Aut == "" {
			return nil, errors.New("suite directory and AUT are required")
		}
		args = append(args, "--suitedir", opts.SuiteDir, "--startapp", "--debug", "--ide", "--aut", opts.Aut)
		args = append(args, opts.AutArgs...)
	case ModeQueryServer:
		if len(opts.QueryArgs) == 0 {
			return nil, errors.New("query arguments are required")
		}
		args = append(args, opts.QueryArgs...)
	case ModeInspect:
		if opts.SuiteDir == "" || opts.AutID <= 0 {
			return nil, errors.New("suite directory and AUT id are required")
		}
		args = append(args, "--suitedir", opts.SuiteDir, "--inspect", "--autid", strconv.Itoa(opts.AutID))
	default:
		return nil, fmt.Errorf("unknown runner mode %q", mode)
	}
	return args, nil
}

// Runner manages one squishrunner process and speaks its line protocol.
type Runner struct {
	*Base
	mode    Mode
	handler RunnerHandler

	mu    sync.Mutex
	autID int
}

// NewRunner creates a runner handle. The handler may be nil.
func NewRunner(binary string, mode Mode, cfg Config, onState StateHandler, handler RunnerHandler) *Runner {
	return &Runner{
		Base:    newBase("squishrunner", binary, cfg, onState),
		mode:    mode,
		handler: handler,
	}
}

func (r *Runner) Mode() Mode {
	return r.mode
}

// currentAutID returns the application id captured from the runner output, or 0.
func (r *Runner) currentAutID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autID
}

// Start launches the runner. The outcome is reported through the state handler.
func (r *Runner) Start(ctx context.Context, opts RunnerOptions) {
	args, err := RunnerArgs(r.mode, opts)
	if err != nil {
		r.failStart(err)
		return
	}
	r.mu.Lock()
	r.autID = 0
	r.mu.Unlock()

	lo := launchOpts{
		args:   args,
		stderr: newLineWriter(r.handleStderr),
		ready:  true,
	}
	if r.mode == ModeQueryServer {
		output := newTailBuffer(0)
		lo.stdout = output
		lo.onExit = func(error) {
			if output.Truncated() {
				r.cfg.Log.Warn("Query output was truncated", "mode", r.mode)
			}
			if r.handler != nil {
				r.handler.QueryOutput(output.String())
			}
		}
	} else {
		lo.stdout = newLineWriter(r.handleStdout)
		lo.stdin = true
	}
	_ = r.launch(ctx, lo)
}

func (r *Runner) handleStdout(line string) {
	if r.handler == nil {
		return
	}
	msg := ParseLine(line)
	switch msg.Kind {
	case MessagePrompt:
		r.handler.Interrupted(types.Location{Line: -1, Column: -1})
	case MessageLocation:
		r.handler.Interrupted(msg.Location)
	case MessageLocals:
		r.handler.LocalsUpdated(msg.Locals)
	case MessageAutID:
		r.mu.Lock()
		first := r.autID == 0
		if first {
			r.autID = msg.AutID
		}
		r.mu.Unlock()
		if !first {
			r.cfg.Log.Warn("Ignoring repeated AUT id", "id", msg.AutID, "current", r.currentAutID())
			return
		}
		r.handler.AutIDRetrieved(msg.AutID)
	case MessagePicked:
		r.handler.ObjectPicked(msg.Object)
	default:
		r.handler.LogOutput(msg.Text)
	}
}

func (r *Runner) handleStderr(line string) {
	if r.handler != nil {
		r.handler.ErrorOutput(line)
	}
}

// WriteCommand sends a debugger command.
func (r *Runner) WriteCommand(cmd Command) error {
	return r.writeLine(string(cmd))
}

// RequestVariables asks for the full locals table.
func (r *Runner) RequestVariables() error {
	return r.writeLine(variablesCommand(""))
}

// RequestExpansion asks for the children of one symbol.
func (r *Runner) RequestExpansion(name string) error {
	return r.writeLine(variablesCommand(name))
}

// SetBreakpoint sets a line breakpoint.
func (r *Runner) SetBreakpoint(file string, line int) error {
	return r.writeLine(breakpointCommand(file, line))
}

// ListObjects asks an inspect session for the children of an object.
func (r *Runner) ListObjects(value string) error {
	return r.writeLine("list objects " + value)
}

// ListProperties asks an inspect session for the properties of an object.
func (r *Runner) ListProperties(value string) error {
	return r.writeLine("list properties " + value)
}

// Interrupt pauses a running test script. It uses the configured interrupt
// helper when there is one, otherwise it signals the runner directly.
func (r *Runner) Interrupt() error {
	pid := r.Pid()
	if pid == 0 {
		return errNotRunning
	}
	if r.cfg.InterruptHelper != "" {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StopTimeout)
		defer cancel()
		if err := r.cfg.Helper(ctx, r.cfg.InterruptHelper, strconv.Itoa(pid)); err != nil {
			return fmt.Errorf("interrupt helper failed: %w", err)
		}
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(os.Interrupt)
}
