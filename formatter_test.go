package squish

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-squish/orchestrator"
	"github.com/ethereum-optimism/infra/op-squish/types"
)

// Helper function to create a sample run summary for formatting
func createSampleSummary() orchestrator.RunSummary {
	return orchestrator.RunSummary{
		RunInfo: orchestrator.RunInfo{
			Suite:     "addressbook",
			RunID:     "run-1",
			TestCases: []string{"tst_add", "tst_remove"},
		},
		Results: []types.TestCaseResult{
			{
				Name:     "tst_add",
				Status:   types.TestStatusPass,
				Duration: 1500 * time.Millisecond,
				Counts:   map[types.ResultType]int{types.ResultPass: 3, types.ResultWarn: 1},
			},
			{
				Name:     "tst_remove",
				Status:   types.TestStatusFail,
				Duration: 2 * time.Second,
				Counts:   map[types.ResultType]int{types.ResultPass: 1, types.ResultFail: 2},
			},
		},
		MergedReport: "/results/addressbook/run/results.xml",
		Duration:     4 * time.Second,
	}
}

func TestConsoleResultFormatter_FormatResults(t *testing.T) {
	var out bytes.Buffer
	formatter := NewConsoleResultFormatter(log.NewLogger(log.DiscardHandler()), &out)

	require.NoError(t, formatter.FormatResults(createSampleSummary()))

	printed := out.String()
	assert.Contains(t, printed, "add")
	assert.Contains(t, printed, "remove")
	assert.Contains(t, printed, "Suite addressbook: fail (1/2 test cases passed in 4.0s, run run-1)")
	assert.Contains(t, printed, "Report: /results/addressbook/run/results.xml")
}

func TestConsoleResultFormatter_FormatResults_EmptyResult(t *testing.T) {
	var out bytes.Buffer
	formatter := NewConsoleResultFormatter(log.NewLogger(log.DiscardHandler()), &out)

	summary := orchestrator.RunSummary{
		RunInfo:  orchestrator.RunInfo{Suite: "empty", RunID: "run-2"},
		Duration: 100 * time.Millisecond,
	}
	require.NoError(t, formatter.FormatResults(summary))
	assert.Contains(t, out.String(), "Suite empty: pass (0/0 test cases passed in 0.1s, run run-2)")
}

func TestRenderResultsTableTotals(t *testing.T) {
	rendered := RenderResultsTable(createSampleSummary())
	assert.Contains(t, rendered, "TOTAL")
	assert.Contains(t, strings.ToLower(rendered), "2 test cases")
	assert.Contains(t, rendered, "├── add")
	assert.Contains(t, rendered, "└── remove")
}

func TestSummaryStringWithError(t *testing.T) {
	summary := createSampleSummary()
	summary.Err = errors.New("squish could not get a license")
	summary.MergedReport = ""

	s := SummaryString(summary)
	assert.True(t, strings.HasPrefix(s, "Suite addressbook: error"))
	assert.Contains(t, s, "Error: squish could not get a license")
	assert.NotContains(t, s, "Report:")
}

func TestCountsOf(t *testing.T) {
	c := countsOf(map[types.ResultType]int{
		types.ResultPass:           2,
		types.ResultExpectedFail:   1,
		types.ResultFail:           1,
		types.ResultUnexpectedPass: 1,
		types.ResultError:          1,
		types.ResultFatal:          1,
		types.ResultWarn:           4,
		types.ResultLog:            9,
	})
	assert.Equal(t, caseCounts{passed: 3, failed: 2, errors: 2, warnings: 4}, c)
}

func TestGetResultString(t *testing.T) {
	assert.Equal(t, "✓ pass", getResultString(types.TestStatusPass))
	assert.Equal(t, "✗ fail", getResultString(types.TestStatusFail))
	assert.Equal(t, "✗ error", getResultString(types.TestStatusError))
	assert.Equal(t, "- canceled", getResultString(types.TestStatusCanceled))
}

func TestExtractKeyErrorMessage(t *testing.T) {
	assert.Equal(t, "", extractKeyErrorMessage(nil))
	assert.Equal(t, "first line", extractKeyErrorMessage(errors.New("first line\nsecond line")))

	long := strings.Repeat("x", 100)
	msg := extractKeyErrorMessage(errors.New(long))
	assert.Len(t, msg, 80)
	assert.True(t, strings.HasSuffix(msg, "..."))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "0.0s", formatDuration(0))
}
