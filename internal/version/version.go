// Package version carries the build metadata stamped into agencymon
// binaries via -ldflags.
package version

var (
	// Version is the agencymon release tag.
	Version = "dev"
	// Commit is the git revision the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC timestamp of the build.
	BuildDate = "unknown"
)
