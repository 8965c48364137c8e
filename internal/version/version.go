// Package version holds the build stamp reported by the CLIs and written
// into measurement reports.
package version

import "fmt"

// Set with -ldflags "-X lens-measure/internal/version.Version=..."
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String formats the stamp as printed by -version.
func String() string {
	return fmt.Sprintf("lens-measure %s (%s, built %s)", Version, GitCommit, BuildTime)
}
