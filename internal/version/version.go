// Package version carries build information stamped in via linker flags.
package version

import (
	"fmt"
	"runtime"
)

var (
	// Version is the chengisd release version.
	Version = "0.1.0"

	// GitCommit is the git commit hash chengisd was built from.
	GitCommit = "unknown"

	// BuildTime is when the binary was built.
	BuildTime = "unknown"

	// GoVersion is the Go toolchain version used to build the binary.
	GoVersion = runtime.Version()
)

// FullVersion returns the full version string including commit and build time.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent returns a string suitable for an HTTP User-Agent header, used by
// any outbound collaborator call (status reporter, notifier webhook).
func UserAgent() string {
	return fmt.Sprintf("chengisd/%s", Version)
}
