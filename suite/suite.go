package suite

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// ConfigFileName is the per suite configuration file.
const ConfigFileName = "suite.conf"

// TestCasePrefix marks test case directories.
const TestCasePrefix = "tst_"

var ErrNoSuiteConfig = errors.New("no suite.conf found")

// Suite is a Squish test suite directory.
type Suite struct {
	Dir       string
	Name      string
	AUT       string
	Language  string
	ObjectMap string
	Wrappers  []string
	// TestCases in execution order.
	TestCases []string
	// Settings holds every key of suite.conf.
	Settings map[string]string
}

// Load reads suite.conf from dir. Test cases listed under TEST_CASES keep
// their order; the remaining tst_* directories follow sorted by name.
func Load(dir string) (*Suite, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for '%s': %w", dir, err)
	}
	settings, err := ParseConfig(filepath.Join(abs, ConfigFileName))
	if err != nil {
		return nil, err
	}

	s := &Suite{
		Dir:       abs,
		Name:      Name(abs),
		AUT:       settings["AUT"],
		Language:  settings["LANGUAGE"],
		ObjectMap: settings["OBJECTMAP"],
		Wrappers:  strings.Fields(settings["WRAPPERS"]),
		Settings:  settings,
	}

	discovered, err := DiscoverTestCases(abs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, name := range strings.Fields(settings["TEST_CASES"]) {
		if seen[name] {
			continue
		}
		seen[name] = true
		s.TestCases = append(s.TestCases, name)
	}
	for _, name := range discovered {
		if !seen[name] {
			s.TestCases = append(s.TestCases, name)
		}
	}
	return s, nil
}

// ParseConfig reads the KEY=VALUE settings of a suite.conf file.
func ParseConfig(path string) (map[string]string, error) {
	settings, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w in %s", ErrNoSuiteConfig, filepath.Dir(path))
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return settings, nil
}

// DiscoverTestCases lists the tst_* directories of a suite sorted by name.
func DiscoverTestCases(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite directory: %w", err)
	}
	var cases []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), TestCasePrefix) {
			cases = append(cases, e.Name())
		}
	}
	sort.Strings(cases)
	return cases, nil
}

// Name is the suite directory's base name without the "suite_" prefix.
func Name(dir string) string {
	return strings.TrimPrefix(filepath.Base(dir), "suite_")
}

// ScriptExtension maps a LANGUAGE value to the test script's extension.
// Unknown languages yield "".
func ScriptExtension(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "python", "python3":
		return ".py"
	case "javascript", "js":
		return ".js"
	case "perl":
		return ".pl"
	case "ruby":
		return ".rb"
	case "tcl":
		return ".tcl"
	}
	return ""
}

// ScriptExtension of the suite's language.
func (s *Suite) ScriptExtension() string {
	return ScriptExtension(s.Language)
}

// HasTestCase reports whether name is one of the suite's test cases.
func (s *Suite) HasTestCase(name string) bool {
	for _, tc := range s.TestCases {
		if tc == name {
			return true
		}
	}
	return false
}

// TestScript is the path of a test case's main script.
func (s *Suite) TestScript(testCase string) string {
	return filepath.Join(s.Dir, testCase, "test"+s.ScriptExtension())
}

// Select returns the requested test cases in the given order, or every test
// case when none are requested.
func (s *Suite) Select(names []string) ([]string, error) {
	if len(names) == 0 {
		return append([]string(nil), s.TestCases...), nil
	}
	var missing []string
	for _, n := range names {
		if !s.HasTestCase(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("unknown test cases in suite %s: %s", s.Name, strings.Join(missing, ", "))
	}
	return append([]string(nil), names...), nil
}
