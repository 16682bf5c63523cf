package squish

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-squish/flags"
	"github.com/ethereum-optimism/infra/op-squish/orchestrator"
	"github.com/ethereum-optimism/infra/op-squish/settings"
	"github.com/ethereum-optimism/infra/op-squish/types"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
	"github.com/ethereum/go-ethereum/log"
)

// Command selects the session a Lifecycle runs.
type Command string

const (
	CommandRun          Command = "run"
	CommandRecord       Command = "record"
	CommandQuery        Command = "query"
	CommandServerConfig Command = "server-config"
)

// Config holds the application configuration
type Config struct {
	Command  Command
	Settings *settings.Settings

	SuiteDir    string
	TestCases   []string
	Breakpoints []types.Breakpoint
	Step        bool // Step over instead of continuing after an interruption

	QueryGlobalScriptDirs bool
	SetGlobalScriptDirs   []string
	ConfigChanges         [][]string

	KillStaleServer bool   // Stop a leftover server without asking
	LogDir          string // Directory to store process logs
	HealthzAddr     string
	MetricsAddr     string

	// Factory replaces the real squish processes, nil uses the configured binaries.
	Factory orchestrator.ProcessFactory
	Out     io.Writer
	Log     log.Logger
}

// NewConfig creates a new Config from cli context. Values from the settings
// file are overridden by flags that were set explicitly.
func NewConfig(ctx *cli.Context, log log.Logger, command Command) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	s, err := settings.Load(log, ctx.String(flags.Settings.Name))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(flags.SquishPath.Name) {
		s.SquishPath = ctx.String(flags.SquishPath.Name)
	}
	if ctx.IsSet(flags.ServerPort.Name) {
		s.Server.Port = ctx.Int(flags.ServerPort.Name)
	}
	if ctx.IsSet(flags.Verbose.Name) {
		s.Server.Verbose = ctx.Bool(flags.Verbose.Name)
	}
	if ctx.IsSet(flags.ResultsDir.Name) {
		s.ResultsDir = ctx.String(flags.ResultsDir.Name)
	}
	if ctx.IsSet(flags.KeepResults.Name) {
		s.KeepResults = ctx.Int(flags.KeepResults.Name)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if s.ResultsDir, err = filepath.Abs(s.ResultsDir); err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for results directory '%s': %w", s.ResultsDir, err)
	}

	// Get log directory, default to "logs" if not specified
	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	cfg := &Config{
		Command:         command,
		Settings:        s,
		KillStaleServer: ctx.Bool(flags.KillStaleServer.Name),
		LogDir:          logDir,
		HealthzAddr:     ctx.String(flags.HealthzAddr.Name),
		Out:             os.Stdout,
		Log:             log,
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if metricsCfg.Enabled {
		if err := metricsCfg.Check(); err != nil {
			return nil, fmt.Errorf("invalid metrics config: %w", err)
		}
		cfg.MetricsAddr = net.JoinHostPort(metricsCfg.ListenAddr, strconv.Itoa(metricsCfg.ListenPort))
	}

	switch command {
	case CommandRun, CommandRecord:
		suiteDir, err := filepath.Abs(ctx.String(flags.Suite.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for suite '%s': %w", ctx.String(flags.Suite.Name), err)
		}
		cfg.SuiteDir = suiteDir
		cfg.TestCases = ctx.StringSlice(flags.TestCase.Name)
		if command == CommandRecord && len(cfg.TestCases) != 1 {
			return nil, errors.New("record needs exactly one --testcase")
		}
		if command == CommandRun {
			cfg.Step = ctx.Bool(flags.Step.Name)
			cfg.Breakpoints = append(cfg.Breakpoints, s.Breakpoints...)
			for _, raw := range ctx.StringSlice(flags.Break.Name) {
				bp, err := settings.ParseBreakpoint(raw)
				if err != nil {
					return nil, err
				}
				cfg.Breakpoints = append(cfg.Breakpoints, bp)
			}
		}
	case CommandQuery:
		cfg.QueryGlobalScriptDirs = ctx.Bool(flags.GlobalScriptDirs.Name)
		cfg.SetGlobalScriptDirs = ctx.StringSlice(flags.SetGlobalScriptDirs.Name)
		if cfg.QueryGlobalScriptDirs && len(cfg.SetGlobalScriptDirs) > 0 {
			return nil, errors.New("--global-script-dirs and --set-global-script-dirs are exclusive")
		}
	case CommandServerConfig:
		changes, err := ParseConfigChanges(ctx.StringSlice(flags.Change.Name))
		if err != nil {
			return nil, err
		}
		cfg.ConfigChanges = changes
	default:
		return nil, fmt.Errorf("unknown command %q", command)
	}
	return cfg, nil
}

// ParseConfigChanges splits each change into the arguments following
// "squishserver --config".
func ParseConfigChanges(changes []string) ([][]string, error) {
	out := make([][]string, 0, len(changes))
	for _, c := range changes {
		fields := strings.Fields(c)
		if len(fields) == 0 {
			return nil, errors.New("empty server configuration change")
		}
		out = append(out, fields)
	}
	return out, nil
}
