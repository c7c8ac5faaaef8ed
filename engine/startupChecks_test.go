package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummonds/piconverter/config"
)

func TestStartupChecksCreatesDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := config.Config{
		OutputDir: filepath.Join(root, "out"),
		Watch: config.WatchConfig{
			Inbox:      filepath.Join(root, "inbox"),
			Outbox:     filepath.Join(root, "outbox"),
			DoneFolder: filepath.Join(root, "inbox", "done"),
		},
	}
	require.NoError(t, StartupChecks(cfg, true))

	for _, dir := range []string{cfg.OutputDir, cfg.Watch.Inbox, cfg.Watch.Outbox, cfg.Watch.DoneFolder} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestStartupChecksRejectsFiles(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "taken")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.Error(t, StartupChecks(config.Config{OutputDir: file}, false))
}

func TestStartupChecksWatchNeedsBothDirectories(t *testing.T) {
	cfg := config.Config{OutputDir: t.TempDir(), Watch: config.WatchConfig{Inbox: t.TempDir()}}
	assert.NoError(t, StartupChecks(cfg, false))
	assert.Error(t, StartupChecks(cfg, true))
}
