// Package version tracks the build version of the binary.
package version

// Version is the current released version. It can be overridden at build
// time using ldflags:
//
//	go build -ldflags "-X github.com/agentrium/recall/internal/version.Version=v0.3.0"
var Version = "0.0.0-dev"

// GetCurrentVersion returns the version string, suffixed in non-prod modes.
func GetCurrentVersion(mode string) string {
	if mode == "prod" {
		return Version
	}
	return Version + "-" + mode
}
