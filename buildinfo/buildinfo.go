// Package buildinfo contains application metadata that can be set at build time.
//
// For release builds, use ldflags to set the version:
//
//	go build -ldflags "-X github.com/nedpals/davi-nfc-bridge/buildinfo.Version=1.0.0"
//
// Or set multiple values:
//
//	go build -ldflags "\
//	  -X github.com/nedpals/davi-nfc-bridge/buildinfo.Version=1.0.0 \
//	  -X github.com/nedpals/davi-nfc-bridge/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/nedpals/davi-nfc-bridge/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

// Application metadata - can be overridden at build time via ldflags
var (
	// Name is the technical application name
	Name = "davi-nfc-bridge"

	// DirName is the name of the config directory within user config paths
	DirName = "davi-nfc-bridge"

	// DisplayName is the user-friendly name (used for mDNS and banners)
	DisplayName = "Davi NFC Bridge"

	// Description is a short description of the application
	Description = "NDEF text record bridge with WebSocket listeners"

	// Version is the semantic version (set via ldflags for releases)
	Version = "dev"

	// Commit is the git commit hash (set via ldflags)
	Commit = ""

	// BuildTime is the build timestamp (set via ldflags)
	BuildTime = ""
)

// FullVersion returns the version string with optional commit info.
// Examples:
//   - "dev" (development build)
//   - "1.0.0" (release build)
//   - "1.0.0 (abc1234)" (release build with commit)
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// BuildInfo returns a multi-line string with full build information.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	if IsDev() {
		b.WriteString("\n  (development build)")
	}
	return b.String()
}

// IsDev returns true if this is a development build.
func IsDev() bool {
	return Version == "dev"
}
