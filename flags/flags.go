package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	opflags "github.com/ethereum-optimism/optimism/op-service/flags"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_SQUISH"

// Flags shared by every session command.
var (
	SquishPath = &cli.StringFlag{
		Name:    "squish-path",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SQUISH_PATH"),
		Usage:   "Squish installation directory (binaries are taken from <dir>/bin). Defaults to the PATH lookup",
	}
	Settings = &cli.StringFlag{
		Name:    "settings",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTINGS"),
		Usage:   "Path to a YAML settings file. Flags override its values",
	}
	ServerPort = &cli.IntFlag{
		Name:    "server-port",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVER_PORT"),
		Usage:   "Port of the squishserver. 0 lets the server pick a free port",
	}
	Verbose = &cli.BoolFlag{
		Name:    "verbose",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "VERBOSE"),
		Usage:   "Start the squishserver with --verbose",
	}
	ResultsDir = &cli.StringFlag{
		Name:    "results-dir",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DIR"),
		Usage:   "Directory receiving the per run XML reports",
	}
	KeepResults = &cli.IntFlag{
		Name:    "keep-results",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KEEP_RESULTS"),
		Usage:   "Number of run directories kept per suite, 0 keeps all",
	}
	KillStaleServer = &cli.BoolFlag{
		Name:    "kill-stale-server",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KILL_STALE_SERVER"),
		Usage:   "Stop a squishserver left over from an earlier session without asking",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory to store process logs and run summaries",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz-addr",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Listen address of the /healthz endpoint, e.g. '0.0.0.0:8080'. Disabled when empty",
	}
)

// Session specific flags.
var (
	Suite = &cli.StringFlag{
		Name:     "suite",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "SUITE"),
		Usage:    "Path to the Squish test suite directory (containing suite.conf)",
	}
	TestCase = &cli.StringSliceFlag{
		Name:    "testcase",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTCASE"),
		Usage:   "Test case to run, may be repeated. Runs every test case of the suite when omitted",
	}
	Break = &cli.StringSliceFlag{
		Name:    "break",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BREAK"),
		Usage:   "Breakpoint as file:line, may be repeated",
	}
	Step = &cli.BoolFlag{
		Name:    "step",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STEP"),
		Usage:   "Step over one line after each interruption instead of continuing",
	}
	GlobalScriptDirs = &cli.BoolFlag{
		Name:    "global-script-dirs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "GLOBAL_SCRIPT_DIRS"),
		Usage:   "Query the global script directories instead of the server info",
	}
	SetGlobalScriptDirs = &cli.StringSliceFlag{
		Name:    "set-global-script-dirs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SET_GLOBAL_SCRIPT_DIRS"),
		Usage:   "Replace the global script directories, may be repeated",
	}
	Change = &cli.StringSliceFlag{
		Name:     "change",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CHANGE"),
		Usage:    "Server configuration change such as 'addAUT name path', may be repeated",
	}
	SuiteName = &cli.StringFlag{
		Name:     "suite-name",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "SUITE_NAME"),
		Usage:    "Name of the suite element wrapping the merged reports",
	}
)

var commonFlags = []cli.Flag{
	SquishPath,
	Settings,
	ServerPort,
	Verbose,
	ResultsDir,
	KeepResults,
	KillStaleServer,
	LogDir,
	HealthzAddr,
}

// Flags are accepted by every command.
var Flags []cli.Flag

var (
	RunFlags          []cli.Flag
	RecordFlags       []cli.Flag
	QueryFlags        []cli.Flag
	ServerConfigFlags []cli.Flag
	MergeFlags        []cli.Flag
)

func init() {
	Flags = append(Flags, commonFlags...)
	Flags = append(Flags, oplog.CLIFlags(EnvVarPrefix)...)
	Flags = append(Flags, opmetrics.CLIFlags(EnvVarPrefix)...)

	RunFlags = withCommon(Suite, TestCase, Break, Step)
	RecordFlags = withCommon(Suite, TestCase)
	QueryFlags = withCommon(GlobalScriptDirs, SetGlobalScriptDirs)
	ServerConfigFlags = withCommon(Change)
	MergeFlags = append([]cli.Flag{ResultsDir, SuiteName}, oplog.CLIFlags(EnvVarPrefix)...)
}

func withCommon(extra ...cli.Flag) []cli.Flag {
	out := make([]cli.Flag, 0, len(extra)+len(Flags))
	out = append(out, extra...)
	return append(out, Flags...)
}

// CheckRequired verifies the required flags of the command being run.
func CheckRequired(ctx *cli.Context) error {
	if ctx.Command != nil {
		for _, f := range ctx.Command.Flags {
			reqFlag, ok := f.(cli.RequiredFlag)
			if !ok || !reqFlag.IsRequired() {
				continue
			}
			if !ctx.IsSet(f.Names()[0]) {
				return fmt.Errorf("flag %s is required", f.Names()[0])
			}
		}
	}
	return opflags.CheckRequiredXor(ctx)
}
