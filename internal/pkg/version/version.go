package version

import (
	"fmt"
	"runtime"

	"github.com/endorses/wirecat/internal/pkg/packet"
)

var (
	// Version is the semantic version (injected at build time via ldflags)
	Version = "dev"

	// GitCommit is the git commit hash (injected at build time via ldflags)
	GitCommit = "unknown"

	// BuildDate is the build date (injected at build time via ldflags)
	BuildDate = "unknown"

	// GoVersion is the Go compiler version
	GoVersion = runtime.Version()
)

// Info is the build description printed by the version command.
type Info struct {
	Version       string `json:"version" yaml:"version"`
	GitCommit     string `json:"git_commit" yaml:"git_commit"`
	BuildDate     string `json:"build_date" yaml:"build_date"`
	GoVersion     string `json:"go_version" yaml:"go_version"`
	Platform      string `json:"platform" yaml:"platform"`
	LayoutVersion int    `json:"layout_version" yaml:"layout_version"`
	Dissector     string `json:"dissector,omitempty" yaml:"dissector,omitempty"`
}

// Get returns the build description. dissector is the external
// dissector's version line, or "" when unknown.
func Get(dissector string) Info {
	return Info{
		Version:       Version,
		GitCommit:     GitCommit,
		BuildDate:     BuildDate,
		GoVersion:     GoVersion,
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		LayoutVersion: packet.LayoutVersion,
		Dissector:     dissector,
	}
}

// GetVersion returns the full version string
func GetVersion() string {
	return Version
}

// GetFullVersion returns a detailed version string with build info
func GetFullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, field layout v%d, %s %s/%s)",
		Version, GitCommit, BuildDate, packet.LayoutVersion, GoVersion, runtime.GOOS, runtime.GOARCH)
}

// GetShortVersion returns a short version string
func GetShortVersion() string {
	if GitCommit != "unknown" && len(GitCommit) > 7 {
		return fmt.Sprintf("%s-%s", Version, GitCommit[:7])
	}
	return Version
}
