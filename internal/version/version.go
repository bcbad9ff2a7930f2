// Package version holds build metadata injected at link time via
// -ldflags "-X github.com/foliokit/rebalancer/internal/version.Version=...".
package version

import "fmt"

var (
	// Version is the semantic version of this build.
	Version = "dev"

	// Commit is the git commit hash of this build.
	Commit = "unknown"

	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// Info returns a single-line human-readable version string.
func Info() string {
	return fmt.Sprintf("rebalancerd %s (commit %s, built %s)", Version, Commit, BuildTime)
}
