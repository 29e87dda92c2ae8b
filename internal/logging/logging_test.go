package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groundwork.log")

	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, MaxSizeMB: 10, MaxFiles: 2})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello", slog.String("component", "test"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
}

func TestSetup_RespectsLevelFiltering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groundwork.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: path, MaxSizeMB: 10, MaxFiles: 2})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("should be dropped")
	logger.Warn("should be kept")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should be dropped")
	assert.Contains(t, string(data), "should be kept")
}

func TestComponent_AddsComponentAttr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "groundwork.log")

	base, cleanup, err := Setup(Config{Level: "info", FilePath: path, MaxSizeMB: 10, MaxFiles: 2})
	require.NoError(t, err)
	defer cleanup()

	logger := Component(base, "backlog")
	logger.Info("running")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "backlog", entry["component"])
}

func TestRotatingWriter_RotatesAtMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rot.log")

	w, err := NewRotatingWriter(path, 0, 2) // maxSize 0 forces rotation on first write
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("first line\n"))
	require.NoError(t, err)
	_, err = w.Write([]byte("second line\n"))
	require.NoError(t, err)

	_, err = os.Stat(path + ".1")
	assert.NoError(t, err, "expected a rotated file to exist")
}

func TestFindLogFile_ReturnsExplicitPathWhenPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "explicit.log")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	found, err := FindLogFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, found)
}

func TestFindLogFile_ErrorsWhenMissing(t *testing.T) {
	_, err := FindLogFile(filepath.Join(t.TempDir(), "missing.log"))
	assert.Error(t, err)
}
