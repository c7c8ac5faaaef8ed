// Package build carries version information stamped at link time.
package build

// Version is set with -ldflags "-X github.com/drummonds/piconverter/internal/build.Version=..."
var Version = "dev"
