package cmd

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppConfig_DataDirFlagOverridesConfig(t *testing.T) {
	oldDataDir := dataDir
	defer func() { dataDir = oldDataDir }()

	tmp := t.TempDir()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmp))
	defer func() { _ = os.Chdir(oldWd) }()

	dataDir = "/tmp/explicit-data-dir"

	cfg, err := loadAppConfig()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/explicit-data-dir", cfg.Paths.DataDir)
}

func TestLoadAppConfig_NoFlagKeepsConfigDefault(t *testing.T) {
	oldDataDir := dataDir
	defer func() { dataDir = oldDataDir }()
	dataDir = ""

	tmp := t.TempDir()
	oldWd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmp))
	defer func() { _ = os.Chdir(oldWd) }()

	cfg, err := loadAppConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Paths.DataDir)
}
