// Package version carries build identifiers injected via -ldflags.
package version

var (
	Version = "dev"
	Commit  = "unknown"
)
