package process

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, b *Base) {
	t.Helper()
	select {
	case <-b.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
}

func TestBaseStartFailureIsReportedAsState(t *testing.T) {
	rec := &stateRecorder{}
	cfg := Config{Log: log.NewLogger(log.DiscardHandler())}
	r := NewRunner(filepath.Join(t.TempDir(), "does-not-exist"), ModeQueryServer, cfg, rec.record, nil)

	r.Start(context.Background(), RunnerOptions{Port: 4711, QueryArgs: []string{"--info", "all"}})

	assert.Equal(t, []types.ProcessState{types.ProcessStarting, types.ProcessStartFailed}, rec.all())
	assert.False(t, r.IsRunning())
}

func TestBaseExitWhileStartingIsStartFailure(t *testing.T) {
	rec := &stateRecorder{}
	s := NewServer("squishserver", helperConfig(t, "fail"), rec.record, nil)

	s.Start(context.Background(), ServerOptions{})
	waitForState(t, rec, types.ProcessStartFailed)
	waitDone(t, s.Base)

	assert.NotContains(t, rec.all(), types.ProcessStarted)
	assert.NotContains(t, rec.all(), types.ProcessStopped)
}

func TestBaseStopAndCloseAreIdempotent(t *testing.T) {
	rec := &stateRecorder{}
	r := NewRunner("squishrunner", ModeRun, helperConfig(t, "runner"), rec.record, &recordingHandler{})
	r.Start(context.Background(), RunnerOptions{Port: 4711, SuiteDir: "/suite", TestCase: "tst_a", ReportFile: "/tmp/r.xml"})
	waitForState(t, rec, types.ProcessStarted)

	r.Stop()
	r.Stop()
	r.Close()
	waitDone(t, r.Base)
	r.Close()
	r.Stop()

	waitForState(t, rec, types.ProcessStopped)
	assert.False(t, r.IsRunning())
	assert.ErrorIs(t, r.WriteCommand(CommandContinue), errNotRunning)
}

func TestServerReportsStartedOnPortLine(t *testing.T) {
	rec := &stateRecorder{}
	helper := &helperCalls{}
	cfg := helperConfig(t, "server")
	cfg.Helper = helper.run

	output := make(chan string, 10)
	s := NewServer("squishserver", cfg, rec.record, func(line string) { output <- line })
	defer s.Close()

	s.Start(context.Background(), ServerOptions{})
	waitForState(t, rec, types.ProcessStarted)
	assert.Equal(t, 4711, s.Port())
	assert.Equal(t, "squishserver starting", <-output)

	s.Stop()
	s.Stop()

	calls := helper.all()
	require.Len(t, calls, 1, "stop helper must run exactly once per stop request")
	assert.Equal(t, []string{"squishserver", "--stop", "--port", "4711"}, calls[0])

	s.Close()
	waitForState(t, rec, types.ProcessStopped)
}

func TestServerStopWithoutPortFails(t *testing.T) {
	rec := &stateRecorder{}
	helper := &helperCalls{}
	cfg := helperConfig(t, "silent-server")
	cfg.Helper = helper.run
	cfg.StartTimeout = 200 * time.Millisecond

	s := NewServer("squishserver", cfg, rec.record, nil)
	defer s.Close()

	s.Start(context.Background(), ServerOptions{Port: 4322})
	waitForState(t, rec, types.ProcessStartFailed)
	assert.True(t, s.IsRunning(), "the OS process stays alive after a readiness timeout")

	s.Stop()
	assert.Equal(t, types.ProcessStopFailed, s.State())
	assert.Empty(t, helper.all(), "no stop helper without a known port")
	assert.True(t, s.IsRunning())

	s.Close()
	waitForState(t, rec, types.ProcessStopped)
}

func TestServerStopHelperFailure(t *testing.T) {
	rec := &stateRecorder{}
	helper := &helperCalls{err: errors.New("connection refused")}
	cfg := helperConfig(t, "server")
	cfg.Helper = helper.run

	s := NewServer("squishserver", cfg, rec.record, nil)
	defer s.Close()

	s.Start(context.Background(), ServerOptions{})
	waitForState(t, rec, types.ProcessStarted)

	s.Stop()
	assert.Equal(t, types.ProcessStopFailed, s.State())
	assert.Len(t, helper.all(), 1)
}

func TestServerConfigChangeIsOneShot(t *testing.T) {
	rec := &stateRecorder{}
	s := NewServer("squishserver", helperConfig(t, "query"), rec.record, nil)

	s.StartConfigChange(context.Background(), []string{"addAUT", "addressbook", "/opt/aut"})
	waitForState(t, rec, types.ProcessStopped)

	assert.Equal(t, []types.ProcessState{types.ProcessStarting, types.ProcessStarted, types.ProcessStopped}, rec.all())
}

func TestServerArgs(t *testing.T) {
	assert.Equal(t, []string{"--local"}, ServerArgs(ServerOptions{}))
	assert.Equal(t, []string{"--port", "4322", "--verbose"}, ServerArgs(ServerOptions{Port: 4322, Verbose: true}))
}

func TestParsePortLine(t *testing.T) {
	port, ok := parsePortLine("Port: 4711")
	assert.True(t, ok)
	assert.Equal(t, 4711, port)

	_, ok = parsePortLine("Port: abc")
	assert.False(t, ok)
	_, ok = parsePortLine("Listening")
	assert.False(t, ok)
}

func TestRunnerArgs(t *testing.T) {
	tests := []struct {
		name     string
		mode     Mode
		opts     RunnerOptions
		expected []string
		wantErr  bool
	}{
		{
			name: "run",
			mode: ModeRun,
			opts: RunnerOptions{Port: 4711, SuiteDir: "/s", TestCase: "tst_a", ReportFile: "/r/tst_a/results.xml"},
			expected: []string{"--port", "4711", "--debugLog", "alpw", "--debug", "--ide", "--suitedir", "/s",
				"--testcase", "tst_a", "--reportgen", "xml2.2,/r/tst_a/results.xml"},
		},
		{
			name: "start aut",
			mode: ModeStartAut,
			opts: RunnerOptions{Port: 4711, SuiteDir: "/s", Aut: "addressbook", AutArgs: []string{"-x"}},
			expected: []string{"--port", "4711", "--debugLog", "alpw", "--suitedir", "/s", "--startapp", "--debug",
				"--ide", "--aut", "addressbook", "-x"},
		},
		{
			name:     "query",
			mode:     ModeQueryServer,
			opts:     RunnerOptions{Port: 4711, QueryArgs: []string{"--info", "all"}},
			expected: []string{"--port", "4711", "--debugLog", "alpw", "--info", "all"},
		},
		{
			name:     "inspect",
			mode:     ModeInspect,
			opts:     RunnerOptions{Port: 4711, SuiteDir: "/s", AutID: 3},
			expected: []string{"--port", "4711", "--debugLog", "alpw", "--suitedir", "/s", "--inspect", "--autid", "3"},
		},
		{
			name:    "missing port",
			mode:    ModeRun,
			opts:    RunnerOptions{SuiteDir: "/s", TestCase: "tst_a", ReportFile: "/r"},
			wantErr: true,
		},
		{
			name:    "run without report file",
			mode:    ModeRun,
			opts:    RunnerOptions{Port: 1, SuiteDir: "/s", TestCase: "tst_a"},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			mode:    Mode("bogus"),
			opts:    RunnerOptions{Port: 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := RunnerArgs(tt.mode, tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, args)
		})
	}
}

func TestRecorderArgs(t *testing.T) {
	args, err := RecorderArgs(RecorderOptions{Port: 4711, SuiteDir: "/s", TestCase: "tst_a", AutID: 7, SnippetFile: "/tmp/snip.py"})
	require.NoError(t, err)
	assert.Equal(t, []string{"--port", "4711", "--debugLog", "alpw", "--suitedir", "/s", "--testcase", "tst_a",
		"--record", "--useWaitFor", "--recordStart", "--autid", "7", "--snippetfile", "/tmp/snip.py"}, args)

	_, err = RecorderArgs(RecorderOptions{Port: 4711, SuiteDir: "/s", TestCase: "tst_a", SnippetFile: "/tmp/snip.py"})
	assert.Error(t, err, "an AUT id is required")
}

func TestRunnerSpeaksLineProtocol(t *testing.T) {
	rec := &stateRecorder{}
	handler := &recordingHandler{}
	r := NewRunner("squishrunner", ModeRun, helperConfig(t, "runner"), rec.record, handler)
	defer r.Close()

	r.Start(context.Background(), RunnerOptions{Port: 4711, SuiteDir: "/suite", TestCase: "tst_a", ReportFile: "/tmp/r.xml"})
	waitForState(t, rec, types.ProcessStarted)

	require.Eventually(t, func() bool { return len(handler.snapshot().interrupts) == 2 }, 10*time.Second, 10*time.Millisecond)
	data := handler.snapshot()
	assert.Equal(t, []int{7}, data.autIDs, "only the first AUT id is captured")
	assert.Equal(t, 7, r.currentAutID())
	assert.Equal(t, []string{"some log output"}, data.logs)
	assert.Equal(t, types.Location{File: "/suite/tst_a/test.js", Line: 5, Column: 3}, data.interrupts[0])
	assert.False(t, data.interrupts[1].IsValid())

	require.NoError(t, r.RequestVariables())
	require.Eventually(t, func() bool { return len(handler.snapshot().locals) == 1 }, 10*time.Second, 10*time.Millisecond)
	locals := handler.snapshot().locals[0]
	assert.False(t, locals.Single)
	assert.Equal(t, []types.Variable{
		{Name: "a", Type: "int", Value: "1"},
		{Name: "obj", Type: "Object", Value: "<obj>", Expandable: true},
	}, locals.Variables)

	require.NoError(t, r.SetBreakpoint(`C:\my suite\test.py`, 12))
	require.NoError(t, r.WriteCommand(CommandQuit))
	waitForState(t, rec, types.ProcessStopped)

	assert.Equal(t, []string{"got: print variables", `got: break C:\\my\ suite\\test.py:12`, "got: quit"}, handler.snapshot().errors)
}

func TestQueryRunnerDeliversOutputBeforeStopped(t *testing.T) {
	handler := &recordingHandler{}
	var outputAtStop []string
	done := make(chan struct{})
	onState := func(s types.ProcessState) {
		if s == types.ProcessStopped {
			outputAtStop = handler.snapshot().queryOutput
			close(done)
		}
	}
	r := NewRunner("squishrunner", ModeQueryServer, helperConfig(t, "query"), onState, handler)

	r.Start(context.Background(), RunnerOptions{Port: 4711, QueryArgs: []string{"--info", "all"}})
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("query runner did not stop")
	}

	assert.Equal(t, []string{"setting=1\nother=2\n"}, outputAtStop)
}
