package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-squish/types"
	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultVarsPollInterval = 500 * time.Millisecond
	DefaultStartTimeout     = 30 * time.Second
	DefaultStopTimeout      = 10 * time.Second
	DefaultResultsDirName   = "squish-results"
)

// Settings are the user level options of the tool. Zero values mean
// "not configured" and are filled in by ApplyDefaults.
type Settings struct {
	SquishPath      string             `yaml:"squishPath"`
	Server          ServerSettings     `yaml:"server"`
	ResultsDir      string             `yaml:"resultsDir"`
	KeepResults     int                `yaml:"keepResults"`
	MinimizeOnRun   bool               `yaml:"minimizeOnRun"`
	InterruptHelper string             `yaml:"interruptHelper"`
	Environment     []string           `yaml:"environment"`
	Breakpoints     []types.Breakpoint `yaml:"breakpoints"`

	VarsPollInterval time.Duration `yaml:"varsPollInterval"`
	StartTimeout     time.Duration `yaml:"startTimeout"`
	StopTimeout      time.Duration `yaml:"stopTimeout"`
}

type ServerSettings struct {
	// Port 0 lets the server pick one (--local).
	Port    int  `yaml:"port"`
	Verbose bool `yaml:"verbose"`
}

// Load reads a settings file. An empty path yields the defaults.
func Load(logger log.Logger, path string) (*Settings, error) {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	s := &Settings{}
	if path != "" {
		logger.Debug("Reading settings file", "path", path)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, fmt.Errorf("parsing settings file: %w", err)
		}
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", path, err)
	}
	return s, nil
}

func (s *Settings) ApplyDefaults() {
	if s.ResultsDir == "" {
		s.ResultsDir = filepath.Join(os.TempDir(), DefaultResultsDirName)
	}
	if s.VarsPollInterval <= 0 {
		s.VarsPollInterval = DefaultVarsPollInterval
	}
	if s.StartTimeout <= 0 {
		s.StartTimeout = DefaultStartTimeout
	}
	if s.StopTimeout <= 0 {
		s.StopTimeout = DefaultStopTimeout
	}
}

func (s *Settings) Validate() error {
	if s.Server.Port < 0 || s.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", s.Server.Port)
	}
	if s.KeepResults < 0 {
		return fmt.Errorf("keepResults must not be negative")
	}
	for _, bp := range s.Breakpoints {
		if bp.File == "" || bp.Line <= 0 {
			return fmt.Errorf("invalid breakpoint %s:%d", bp.File, bp.Line)
		}
	}
	return nil
}

// ServerBinary is the squishserver executable of the configured installation.
func (s *Settings) ServerBinary() string {
	return s.binary("squishserver")
}

// RunnerBinary is the squishrunner executable of the configured installation.
func (s *Settings) RunnerBinary() string {
	return s.binary("squishrunner")
}

func (s *Settings) binary(name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if s.SquishPath == "" {
		return name
	}
	return filepath.Join(s.SquishPath, "bin", name)
}

// ParseBreakpoint parses "file:line" into an enabled breakpoint.
func ParseBreakpoint(raw string) (types.Breakpoint, error) {
	i := strings.LastIndex(raw, ":")
	if i <= 0 || i == len(raw)-1 {
		return types.Breakpoint{}, fmt.Errorf("breakpoint %q must look like file:line", raw)
	}
	line, err := strconv.Atoi(raw[i+1:])
	if err != nil || line <= 0 {
		return types.Breakpoint{}, fmt.Errorf("breakpoint %q has an invalid line", raw)
	}
	file, err := filepath.Abs(raw[:i])
	if err != nil {
		return types.Breakpoint{}, fmt.Errorf("failed to resolve absolute path for '%s': %w", raw[:i], err)
	}
	return types.Breakpoint{File: file, Line: line, Enabled: true}, nil
}
