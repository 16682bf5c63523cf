package squish

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-squish/flags"
)

// configFromArgs runs a one command app and returns the config its action built.
func configFromArgs(t *testing.T, command Command, set []cli.Flag, args ...string) (*Config, error) {
	t.Helper()
	var (
		cfg    *Config
		cfgErr error
	)
	app := &cli.App{
		Commands: []*cli.Command{{
			Name:  string(command),
			Flags: set,
			Action: func(ctx *cli.Context) error {
				cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()), command)
				return nil
			},
		}},
	}
	require.NoError(t, app.Run(append([]string{"op-squish", string(command)}, args...)))
	return cfg, cfgErr
}

func TestNewConfigRun(t *testing.T) {
	dir := t.TempDir()
	settingsFile := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(settingsFile, []byte("keepResults: 3\nserver:\n  port: 4000\n"), 0o644))

	cfg, err := configFromArgs(t, CommandRun, flags.RunFlags,
		"--suite", filepath.Join(dir, "suite_demo"),
		"--testcase", "tst_a",
		"--testcase", "tst_b",
		"--break", filepath.Join(dir, "tst_a", "test.py")+":12",
		"--step",
		"--settings", settingsFile,
		"--server-port", "5000",
		"--results-dir", filepath.Join(dir, "results"),
		"--log-dir", filepath.Join(dir, "logs"),
	)
	require.NoError(t, err)

	assert.Equal(t, CommandRun, cfg.Command)
	assert.Equal(t, filepath.Join(dir, "suite_demo"), cfg.SuiteDir)
	assert.Equal(t, []string{"tst_a", "tst_b"}, cfg.TestCases)
	require.Len(t, cfg.Breakpoints, 1)
	assert.Equal(t, 12, cfg.Breakpoints[0].Line)
	assert.True(t, cfg.Step)
	assert.Equal(t, 5000, cfg.Settings.Server.Port)
	assert.Equal(t, 3, cfg.Settings.KeepResults)
	assert.Equal(t, filepath.Join(dir, "results"), cfg.Settings.ResultsDir)
	assert.Equal(t, filepath.Join(dir, "logs"), cfg.LogDir)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestNewConfigRecordNeedsOneTestCase(t *testing.T) {
	_, err := configFromArgs(t, CommandRecord, flags.RecordFlags, "--suite", t.TempDir())
	require.Error(t, err)

	cfg, err := configFromArgs(t, CommandRecord, flags.RecordFlags, "--suite", t.TempDir(), "--testcase", "tst_a")
	require.NoError(t, err)
	assert.Equal(t, []string{"tst_a"}, cfg.TestCases)
}

func TestNewConfigQuery(t *testing.T) {
	cfg, err := configFromArgs(t, CommandQuery, flags.QueryFlags, "--set-global-script-dirs", "/shared/scripts")
	require.NoError(t, err)
	assert.Equal(t, []string{"/shared/scripts"}, cfg.SetGlobalScriptDirs)
	assert.False(t, cfg.QueryGlobalScriptDirs)

	_, err = configFromArgs(t, CommandQuery, flags.QueryFlags, "--global-script-dirs", "--set-global-script-dirs", "/x")
	require.Error(t, err)
}

func TestNewConfigServerConfig(t *testing.T) {
	cfg, err := configFromArgs(t, CommandServerConfig, flags.ServerConfigFlags,
		"--change", "addAUT addressbook /opt/addressbook",
		"--change", "setAUTTimeout 60",
	)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"addAUT", "addressbook", "/opt/addressbook"},
		{"setAUTTimeout", "60"},
	}, cfg.ConfigChanges)
}

func TestNewConfigInvalidBreakpoint(t *testing.T) {
	_, err := configFromArgs(t, CommandRun, flags.RunFlags, "--suite", t.TempDir(), "--break", "nowhere")
	require.Error(t, err)
}

func TestParseConfigChanges(t *testing.T) {
	_, err := ParseConfigChanges([]string{"  "})
	require.Error(t, err)

	changes, err := ParseConfigChanges(nil)
	require.NoError(t, err)
	assert.Empty(t, changes)
}
