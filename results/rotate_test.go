package results

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRunDir(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := CreateRunDir(root, "demo", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "demo", "2024-03-01T10-00-00"), first)
	assert.DirExists(t, first)

	second, err := CreateRunDir(root, "demo", now)
	require.NoError(t, err)
	assert.Equal(t, first+"_1", second)

	assert.Equal(t, filepath.Join(first, "tst_a", "results.xml"), TestCaseReportFile(first, "tst_a"))
}

func TestRotateRunDirectories(t *testing.T) {
	suiteDir := t.TempDir()
	names := []string{
		"2024-03-01T10-00-00",
		"2024-03-02T10-00-00",
		"2024-02-01T10-00-00",
		"2024-03-03T10-00-00",
	}
	for _, n := range names {
		require.NoError(t, os.Mkdir(filepath.Join(suiteDir, n), 0o755))
	}
	require.NoError(t, os.Mkdir(filepath.Join(suiteDir, "notes"), 0o755))

	removed, err := RotateRunDirectories(testLogger(), suiteDir, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(suiteDir, "2024-02-01T10-00-00"),
		filepath.Join(suiteDir, "2024-03-01T10-00-00"),
	}, removed)
	assert.DirExists(t, filepath.Join(suiteDir, "2024-03-02T10-00-00"))
	assert.DirExists(t, filepath.Join(suiteDir, "2024-03-03T10-00-00"))
	assert.DirExists(t, filepath.Join(suiteDir, "notes"), "unrelated directories are kept")
}

func TestRotateRunDirectoriesKeepAll(t *testing.T) {
	suiteDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(suiteDir, "2024-03-01T10-00-00"), 0o755))

	removed, err := RotateRunDirectories(testLogger(), suiteDir, 0)
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = RotateRunDirectories(testLogger(), filepath.Join(suiteDir, "missing"), 3)
	require.NoError(t, err)
	assert.Empty(t, removed)
}
