// Package version exists solely so that we can store the version of this
// application in one location.
//
// The CLI prints it, and the emulator could report it to a guest which
// asks, so it lives in a package of its own rather than in main.
package version

import "fmt"

var (
	// version is populated with our release tag, at build time via
	// -ldflags "-X github.com/skx/romulator/version.version=...".
	version = "unreleased"
)

// GetVersionBanner returns a banner which is suitable for printing, to show our name,
// version, and homepage link.
func GetVersionBanner() string {
	return fmt.Sprintf("romulator %s\n%s\n", version, "https://github.com/skx/romulator/")
}

// GetVersionString returns our version number as a string.
func GetVersionString() string {
	return version
}
