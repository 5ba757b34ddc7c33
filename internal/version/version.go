// Package version carries build information set with -ldflags, e.g.
//
//	-X github.com/banshee-data/goaltrack/internal/version.Version=v1.2.0
package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String formats the build information for -version output and logs.
func String() string {
	return fmt.Sprintf("goaltrack %s (%s, built %s)", Version, GitSHA, BuildTime)
}
