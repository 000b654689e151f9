package tahan

import (
	"fmt"
	"runtime"
)

// Build metadata, overridable with -ldflags "-X".
var (
	Version   = "v0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo describes the running build. It is what `tahan version --json`
// prints.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// String renders the one-line banner.
func (b BuildInfo) String() string {
	return fmt.Sprintf("tahan %s (commit: %s, built: %s, go: %s, %s)",
		b.Version, b.Commit, b.BuildDate, b.GoVersion, b.Platform)
}

// GetVersionInfo returns the current build metadata.
func GetVersionInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersion returns the one-line banner for the current build.
func GetVersion() string {
	return GetVersionInfo().String()
}
