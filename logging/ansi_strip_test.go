package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLineStripsANSIEscapeSequences(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "No ANSI sequences",
			input:    "Listening on port 4322",
			expected: "Listening on port 4322",
		},
		{
			name:     "Basic color sequence",
			input:    "\x1b[32mPASS\x1b[0m Comparison",
			expected: "PASS Comparison",
		},
		{
			name:     "Bold and color sequences",
			input:    "\x1b[1m\x1b[31mFAIL\x1b[0m normal text",
			expected: "FAIL normal text",
		},
		{
			name:     "Multiple parameters in escape sequence",
			input:    "\x1b[1;33mWarning\x1b[0m text",
			expected: "Warning text",
		},
		{
			name:     "Trailing carriage return",
			input:    "Windows line\r",
			expected: "Windows line",
		},
		{
			name:     "Only ANSI sequences",
			input:    "\x1b[32m\x1b[0m",
			expected: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logger, err := NewFileLogger(t.TempDir(), "ansi")
			require.NoError(t, err)
			require.NoError(t, logger.LogLine("squishrunner", tc.input))
			require.NoError(t, logger.Complete())

			content, err := os.ReadFile(logger.SourceLogFile("squishrunner"))
			require.NoError(t, err)
			// strip the timestamp
			line := string(content)
			require.Greater(t, len(line), 13)
			assert.Equal(t, tc.expected+"\n", line[13:])
		})
	}
}
