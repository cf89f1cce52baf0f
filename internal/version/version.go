// SPDX-License-Identifier: MIT

// Package version carries the build identity. Release builds stamp the
// variables with -ldflags; anything else runs as "dev".
package version

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"

	// Commit is the git short hash of the build.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the full build identity for logs and --version output.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
