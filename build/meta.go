// Package build exposes version metadata stamped at link time via
// -ldflags.
package build

var (
	version = "dev"
	commit  = "?"
)

// Version returns the build version.
func Version() string { return version }

// Commit returns the build commit hash.
func Commit() string { return commit }
