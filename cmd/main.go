package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	squish "github.com/ethereum-optimism/infra/op-squish"
	"github.com/ethereum-optimism/infra/op-squish/exitcodes"
	"github.com/ethereum-optimism/infra/op-squish/flags"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-squish"
	app.Usage = "Squish test run orchestrator"
	app.Description = "op-squish drives squishserver and squishrunner to run, record and debug Squish test suites"
	app.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "Run test cases of a suite and print the results",
			Flags:  cliapp.ProtectFlags(flags.RunFlags),
			Action: cliapp.LifecycleCmd(lifecycle(squish.CommandRun)),
		},
		{
			Name:   "record",
			Usage:  "Start the suite's AUT and record a snippet until interrupted",
			Flags:  cliapp.ProtectFlags(flags.RecordFlags),
			Action: cliapp.LifecycleCmd(lifecycle(squish.CommandRecord)),
		},
		{
			Name:   "query",
			Usage:  "Print the server configuration or change the global script directories",
			Flags:  cliapp.ProtectFlags(flags.QueryFlags),
			Action: cliapp.LifecycleCmd(lifecycle(squish.CommandQuery)),
		},
		{
			Name:   "server-config",
			Usage:  "Apply squishserver --config changes",
			Flags:  cliapp.ProtectFlags(flags.ServerConfigFlags),
			Action: cliapp.LifecycleCmd(lifecycle(squish.CommandServerConfig)),
		},
		MergeCommand(),
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Use the exit code from the ExitCoder
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
		}
	}
	return app
}

// exitCode maps typed errors onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case squish.IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		// test failures and unspecified errors
		return exitcodes.TestFailure
	}
}

func setupLogger(ctx *cli.Context) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	oplog.SetupDefaults()
	return logger
}

func lifecycle(command squish.Command) cliapp.LifecycleAction {
	return func(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
		log := setupLogger(ctx)

		cfg, err := squish.NewConfig(ctx, log, command)
		if err != nil {
			// Wrap in RuntimeError to signal this should exit with code 2
			return nil, squish.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
		}

		cfg.Log.Debug("Config", "config", cfg)

		svc, err := squish.New(ctx.Context, cfg, Version, closeApp)
		if err != nil {
			// Wrap in RuntimeError to signal this should exit with code 2
			return nil, squish.NewRuntimeError(fmt.Errorf("failed to create squish session: %w", err))
		}
		return svc, nil
	}
}
