package engine

import (
	"fmt"
	"os"

	"github.com/drummonds/piconverter/config"
)

// StartupChecks makes sure every directory the configuration names exists.
// Watch directories are only checked when watch mode is enabled.
func StartupChecks(serverConfig config.Config, watch bool) error {
	if err := directoryChecks("output", serverConfig.OutputDir); err != nil {
		return err
	}
	if err := directoryChecks("preview", serverConfig.PreviewDir); err != nil {
		return err
	}
	if !watch {
		return nil
	}
	if serverConfig.Watch.Inbox == "" || serverConfig.Watch.Outbox == "" {
		Logger.Error("Watch mode needs an inbox and an outbox", "inbox", serverConfig.Watch.Inbox, "outbox", serverConfig.Watch.Outbox)
		return fmt.Errorf("watch inbox and outbox must both be configured")
	}
	for _, dir := range []struct{ label, path string }{
		{"inbox", serverConfig.Watch.Inbox},
		{"outbox", serverConfig.Watch.Outbox},
		{"done", serverConfig.Watch.DoneFolder},
	} {
		if err := directoryChecks(dir.label, dir.path); err != nil {
			return err
		}
	}
	return nil
}

// directoryChecks ensures a directory exists, creating it if needed. Empty paths are skipped.
func directoryChecks(label, path string) error {
	if path == "" {
		Logger.Debug("Directory not configured", "directory", label)
		return nil
	}

	// Check if directory exists
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating directory", "directory", label, "path", path)
			if err := os.MkdirAll(path, 0755); err != nil {
				Logger.Error("Failed to create directory", "directory", label, "path", path, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking directory", "directory", label, "path", path, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !info.IsDir() {
		Logger.Error("Path exists but is not a directory", "directory", label, "path", path)
		return fmt.Errorf("%s path is not a directory: %s", label, path)
	}

	Logger.Debug("Directory exists", "directory", label, "path", path)
	return nil
}
