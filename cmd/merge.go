package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	squish "github.com/ethereum-optimism/infra/op-squish"
	"github.com/ethereum-optimism/infra/op-squish/flags"
	"github.com/ethereum-optimism/infra/op-squish/results"
)

// MergeCommand defines the "merge" command combining per test case reports
// into one suite report.
func MergeCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Merge test case reports into <results-dir>/" + results.MergedReportName,
		ArgsUsage: "<report.xml>...",
		Flags:     flags.MergeFlags,
		Action:    mergeAction,
	}
}

func mergeAction(c *cli.Context) error {
	log := setupLogger(c)
	if err := flags.CheckRequired(c); err != nil {
		return squish.NewRuntimeError(err)
	}
	if c.NArg() == 0 {
		return squish.NewRuntimeError(errors.New("no report files given"))
	}

	resultsDir := c.String(flags.ResultsDir.Name)
	if resultsDir == "" {
		resultsDir = "."
	}
	resultsDir, err := filepath.Abs(resultsDir)
	if err != nil {
		return squish.NewRuntimeError(fmt.Errorf("failed to resolve absolute path for results directory '%s': %w", resultsDir, err))
	}
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return squish.NewRuntimeError(fmt.Errorf("failed to create results directory: %w", err))
	}

	if err := results.MergeResultFiles(log, c.Args().Slice(), resultsDir, c.String(flags.SuiteName.Name)); err != nil {
		return squish.NewRuntimeError(err)
	}
	fmt.Fprintln(c.App.Writer, filepath.Join(resultsDir, results.MergedReportName))
	return nil
}
