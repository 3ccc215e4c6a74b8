// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/canopy.report/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build metadata on one line.
func String() string {
	return fmt.Sprintf("canopy %s (commit %s, built %s)", Version, GitSHA, BuildTime)
}
