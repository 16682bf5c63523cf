package process

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/metrics"
	"github.com/ethereum-optimism/infra/op-squish/types"
)

const portPrefix = "Port:"

// ServerOptions configures a squishserver launch.
type ServerOptions struct {
	// Port is the fixed port to listen on. Zero lets the server pick one (--local).
	Port    int
	Verbose bool
}

// ServerArgs builds the squishserver command line.
func ServerArgs(opts ServerOptions) []string {
	var args []string
	if opts.Port > 0 {
		args = append(args, "--port", strconv.Itoa(opts.Port))
	} else {
		args = append(args, "--local")
	}
	if opts.Verbose {
		args = append(args, "--verbose")
	}
	return args
}

// Server manages the long-lived squishserver process. It reports Started
// only once the server printed the port it listens on.
type Server struct {
	*Base
	onOutput LineHandler

	mu            sync.Mutex
	port          int
	stopRequested bool
	readiness     *time.Timer
}

// NewServer creates a server handle for the given squishserver binary.
func NewServer(binary string, cfg Config, onState StateHandler, onOutput LineHandler) *Server {
	return &Server{
		Base:     newBase("squishserver", binary, cfg, onState),
		onOutput: onOutput,
	}
}

// Port returns the port announced by the running server, or 0.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Start launches the server. The outcome is reported through the state handler.
func (s *Server) Start(ctx context.Context, opts ServerOptions) {
	s.reset()
	err := s.launch(ctx, launchOpts{
		args:   ServerArgs(opts),
		stdout: newLineWriter(s.handleStdout),
		stderr: newLineWriter(s.handleStderr),
		onExit: func(error) { s.stopReadinessTimer() },
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	s.readiness = time.AfterFunc(s.cfg.StartTimeout, s.readinessTimedOut)
	s.mu.Unlock()
}

// StartConfigChange runs squishserver once to apply a configuration change.
// The process counts as started right away and stops when the change is applied.
func (s *Server) StartConfigChange(ctx context.Context, change []string) {
	s.reset()
	args := append([]string{"--config"}, change...)
	_ = s.launch(ctx, launchOpts{
		args:   args,
		stdout: newLineWriter(s.handleStdout),
		stderr: newLineWriter(s.handleStderr),
		ready:  true,
	})
}

func (s *Server) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = 0
	s.stopRequested = false
}

func (s *Server) handleStdout(line string) {
	if port, ok := parsePortLine(line); ok {
		s.mu.Lock()
		known := s.port != 0
		s.port = port
		s.mu.Unlock()
		if !known {
			s.stopReadinessTimer()
			s.cfg.Log.Info("Squish server is listening", "port", port)
			s.transition(types.ProcessStarting, types.ProcessStarted)
		}
		return
	}
	s.emit(line)
}

func (s *Server) handleStderr(line string) {
	s.emit(line)
}

func (s *Server) emit(line string) {
	if s.onOutput != nil {
		s.onOutput(line)
	}
}

func (s *Server) readinessTimedOut() {
	if s.transition(types.ProcessStarting, types.ProcessStartFailed) {
		s.cfg.Log.Error("Squish server did not report its port in time", "timeout", s.cfg.StartTimeout)
		metrics.RecordProcessStart(s.name, false)
	}
}

func (s *Server) stopReadinessTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readiness != nil {
		s.readiness.Stop()
		s.readiness = nil
	}
}

// Stop asks the server to shut down through "squishserver --stop --port <n>".
// Without a known port there is no way to address it and StopFailed is reported.
func (s *Server) Stop() {
	if !s.IsRunning() {
		return
	}

	s.mu.Lock()
	if s.stopRequested {
		s.mu.Unlock()
		return
	}
	port := s.port
	if port == 0 {
		s.mu.Unlock()
		s.cfg.Log.Warn("Cannot stop squish server, port is unknown")
		metrics.RecordError("server_stop_unknown_port")
		s.setState(types.ProcessStopFailed)
		return
	}
	s.stopRequested = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout)
	defer cancel()
	if err := s.cfg.Helper(ctx, s.binary, "--stop", "--port", strconv.Itoa(port)); err != nil {
		s.cfg.Log.Error("Failed to stop squish server", "port", port, "error", err)
		metrics.RecordErrorDetails("server_stop", err)
		s.setState(types.ProcessStopFailed)
	}
}

func parsePortLine(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, portPrefix) {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, portPrefix)))
	if err != nil || port <= 0 {
		return 0, false
	}
	return port, true
}
