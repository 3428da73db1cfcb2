package version

// Version is the current release. Overridden at build time with
// -ldflags "-X github.com/rubiojr/volunteer/pkg/version.Version=...".
var Version = "0.4.0"

// BuildVersion returns the version string for display.
func BuildVersion() string {
	return "volunteer version " + Version
}

// APIVersion returns just the version number for API responses.
func APIVersion() string {
	return Version
}
