// Package version holds build information injected at link time.
package version

import "fmt"

// Set via -ldflags "-X agrodata/internal/version.Version=..." at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line description of the build.
func Info() string {
	return fmt.Sprintf("agrodata %s (commit %s, built %s)", Version, Commit, Date)
}
