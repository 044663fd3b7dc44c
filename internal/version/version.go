package version

import "fmt"

// Build metadata, overridden via -ldflags at release time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata as a single human-readable line.
func String() string {
	return fmt.Sprintf("coinwatcher %s (commit %s, built %s)", Version, Commit, BuildDate)
}
