package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// RecorderOptions configures a recording runner attached to a started AUT.
type RecorderOptions struct {
	Port        int
	SuiteDir    string
	TestCase    string
	AutID       int
	SnippetFile string
}

// RecorderArgs builds the squishrunner command line of a recorder.
func RecorderArgs(opts RecorderOptions) ([]string, error) {
	if opts.Port <= 0 || opts.AutID <= 0 {
		return nil, errors.New("server port and AUT id are required")
	}
	if opts.SuiteDir == "" || opts.TestCase == "" || opts.SnippetFile == "" {
		return nil, errors.New("suite directory, test case and snippet file are required")
	}
	return []string{
		"--port", strconv.Itoa(opts.Port), "--debugLog", "alpw",
		"--suitedir", opts.SuiteDir, "--testcase", opts.TestCase,
		"--record", "--useWaitFor", "--recordStart",
		"--autid", strconv.Itoa(opts.AutID),
		"--snippetfile", opts.SnippetFile,
	}, nil
}

// Recorder runs the squishrunner instance that records user interaction into
// a script snippet.
type Recorder struct {
	*Base
	onOutput LineHandler

	mu          sync.Mutex
	snippetFile string
}

func NewRecorder(binary string, cfg Config, onState StateHandler, onOutput LineHandler) *Recorder {
	return &Recorder{
		Base:     newBase("squishrecorder", binary, cfg, onState),
		onOutput: onOutput,
	}
}

// Start launches the recorder. The outcome is reported through the state handler.
func (r *Recorder) Start(ctx context.Context, opts RecorderOptions) {
	args, err := RecorderArgs(opts)
	if err != nil {
		r.failStart(err)
		return
	}
	r.mu.Lock()
	r.snippetFile = opts.SnippetFile
	r.mu.Unlock()

	_ = r.launch(ctx, launchOpts{
		args:   args,
		stdout: newLineWriter(r.onOutput),
		stderr: newLineWriter(r.onOutput),
		ready:  true,
	})
}

// Snippet returns the recorded script snippet.
func (r *Recorder) Snippet() (string, error) {
	r.mu.Lock()
	path := r.snippetFile
	r.mu.Unlock()
	if path == "" {
		return "", errors.New("recorder was not started")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read snippet file: %w", err)
	}
	return string(data), nil
}
