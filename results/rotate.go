package results

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// RunDirLayout names run directories. It sorts lexically in time order.
const RunDirLayout = "2006-01-02T15-04-05"

// ReportFileName is the per test case report written by the runner.
const ReportFileName = "results.xml"

// SuiteResultsDir is the directory holding every run of one suite.
func SuiteResultsDir(resultsDir, suiteName string) string {
	return filepath.Join(resultsDir, suiteName)
}

// CreateRunDir creates <resultsDir>/<suite>/<timestamp>. A second run within
// the same second gets a numeric suffix.
func CreateRunDir(resultsDir, suiteName string, now time.Time) (string, error) {
	base := filepath.Join(SuiteResultsDir(resultsDir, suiteName), now.Format(RunDirLayout))
	dir := base
	for i := 1; ; i++ {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return "", fmt.Errorf("failed to create results directory: %w", err)
		}
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create run directory %s: %w", dir, err)
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

// TestCaseReportFile is where the runner writes the report of one test case.
func TestCaseReportFile(runDir, testCase string) string {
	return filepath.Join(runDir, testCase, ReportFileName)
}

// RotateRunDirectories removes the oldest run directories of a suite so that
// at most keep remain. keep <= 0 keeps everything.
func RotateRunDirectories(logger log.Logger, suiteDir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	entries, err := os.ReadDir(suiteDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", suiteDir, err)
	}

	var runs []string
	for _, e := range entries {
		if !e.IsDir() || !isRunDirName(e.Name()) {
			continue
		}
		runs = append(runs, e.Name())
	}
	if len(runs) <= keep {
		return nil, nil
	}
	sort.Strings(runs)

	var removed []string
	for _, name := range runs[:len(runs)-keep] {
		path := filepath.Join(suiteDir, name)
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove old results %s: %w", path, err)
		}
		if logger != nil {
			logger.Debug("Removed old results", "dir", path)
		}
		removed = append(removed, path)
	}
	return removed, nil
}

func isRunDirName(name string) bool {
	if len(name) < len(RunDirLayout) {
		return false
	}
	_, err := time.Parse(RunDirLayout, name[:len(RunDirLayout)])
	return err == nil
}
