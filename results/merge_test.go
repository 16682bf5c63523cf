package results

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mergedVerification struct {
	Line   int `xml:"line,attr"`
	Result struct {
		Type string `xml:"type,attr"`
	} `xml:"result"`
}

type mergedTimed struct {
	Time string `xml:"time,attr"`
}

type mergedCase struct {
	Name          string               `xml:"name,attr"`
	Prolog        mergedTimed          `xml:"prolog"`
	Verifications []mergedVerification `xml:"verification"`
	Epilog        *mergedTimed         `xml:"epilog"`
}

type mergedReport struct {
	XMLName xml.Name `xml:"SquishReport"`
	Version string   `xml:"version,attr"`
	Suites  []struct {
		Name   string       `xml:"name,attr"`
		Prolog mergedTimed  `xml:"prolog"`
		Cases  []mergedCase `xml:"test"`
		Epilog mergedTimed  `xml:"epilog"`
	} `xml:"test"`
}

func caseReport(name string, start, end int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<SquishReport version="2.1">
    <test name="%s">
        <prolog time="t%d"/>
        <verification line="%d" file="test.py">
            <result type="PASS" time="t%d"><description>ok</description></result>
        </verification>
        <epilog time="t%d"/>
    </test>
</SquishReport>
`, name, start, start+1, start+1, end)
}

func writeReports(t *testing.T, dir string, contents ...string) []string {
	t.Helper()
	var paths []string
	for i, c := range contents {
		p := filepath.Join(dir, fmt.Sprintf("tst_%d", i), ReportFileName)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(c), 0o644))
		paths = append(paths, p)
	}
	return paths
}

func readMerged(t *testing.T, dir string) mergedReport {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, MergedReportName))
	require.NoError(t, err)
	var report mergedReport
	require.NoError(t, xml.Unmarshal(data, &report), string(data))
	return report
}

func TestMergeResultFiles(t *testing.T) {
	dir := t.TempDir()
	inputs := writeReports(t, dir,
		caseReport("tst_a", 10, 19),
		caseReport("tst_b", 20, 29),
		caseReport("tst_c", 30, 39),
	)

	require.NoError(t, MergeResultFiles(testLogger(), inputs, dir, "suite_demo"))

	report := readMerged(t, dir)
	assert.Equal(t, "2.1", report.Version)
	require.Len(t, report.Suites, 1)
	suite := report.Suites[0]
	assert.Equal(t, "suite_demo", suite.Name)
	assert.Equal(t, "t10", suite.Prolog.Time, "suite prolog comes from the first case")
	assert.Equal(t, "t39", suite.Epilog.Time, "suite epilog carries the last epilog time")

	require.Len(t, suite.Cases, 3)
	for i, name := range []string{"tst_a", "tst_b", "tst_c"} {
		c := suite.Cases[i]
		assert.Equal(t, name, c.Name)
		assert.Equal(t, fmt.Sprintf("t%d", 10*(i+1)), c.Prolog.Time)
		require.Len(t, c.Verifications, 1)
		assert.Equal(t, "PASS", c.Verifications[0].Result.Type)
		require.NotNil(t, c.Epilog)
		assert.Equal(t, fmt.Sprintf("t%d", 10*(i+1)+9), c.Epilog.Time)
	}
}

func TestMergeResultFilesClosesTruncatedInput(t *testing.T) {
	dir := t.TempDir()
	full := caseReport("tst_b", 20, 29)
	truncated := full[:len(full)-80]
	inputs := writeReports(t, dir, caseReport("tst_a", 10, 19), truncated)

	require.NoError(t, MergeResultFiles(testLogger(), inputs, dir, "suite_demo"))

	report := readMerged(t, dir)
	require.Len(t, report.Suites, 1)
	require.Len(t, report.Suites[0].Cases, 2)
	assert.Equal(t, "tst_b", report.Suites[0].Cases[1].Name)
	assert.Nil(t, report.Suites[0].Cases[1].Epilog)
	assert.Equal(t, "t19", report.Suites[0].Epilog.Time)
}

func TestMergeResultFilesSkipsMissingInput(t *testing.T) {
	dir := t.TempDir()
	inputs := writeReports(t, dir, caseReport("tst_a", 10, 19))
	inputs = append(inputs, filepath.Join(dir, "missing", ReportFileName))

	require.NoError(t, MergeResultFiles(testLogger(), inputs, dir, "suite_demo"))
	report := readMerged(t, dir)
	require.Len(t, report.Suites[0].Cases, 1)
}

func TestMergeResultFilesErrors(t *testing.T) {
	t.Run("destination exists", func(t *testing.T) {
		dir := t.TempDir()
		inputs := writeReports(t, dir, caseReport("tst_a", 10, 19))
		dest := filepath.Join(dir, MergedReportName)
		require.NoError(t, os.WriteFile(dest, []byte("keep"), 0o644))

		require.Error(t, MergeResultFiles(testLogger(), inputs, dir, "suite_demo"))
		data, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "keep", string(data))
	})

	t.Run("destination cannot be created", func(t *testing.T) {
		dir := t.TempDir()
		inputs := writeReports(t, dir, caseReport("tst_a", 10, 19))
		require.Error(t, MergeResultFiles(testLogger(), inputs, filepath.Join(dir, "no", "such", "dir"), "suite_demo"))
	})

	t.Run("first input malformed", func(t *testing.T) {
		dir := t.TempDir()
		inputs := writeReports(t, dir, "<SquishReport><test name=\"tst_a\"><verification/>", caseReport("tst_b", 20, 29))

		err := MergeResultFiles(testLogger(), inputs, dir, "suite_demo")
		require.ErrorIs(t, err, errMalformedFirstReport)
		assert.NoFileExists(t, filepath.Join(dir, MergedReportName))
	})

	t.Run("first input is not a report", func(t *testing.T) {
		dir := t.TempDir()
		inputs := writeReports(t, dir, "not xml at all")

		require.Error(t, MergeResultFiles(testLogger(), inputs, dir, "suite_demo"))
		assert.NoFileExists(t, filepath.Join(dir, MergedReportName))
	})
}
