// Package contracts holds the wire types shared by the checker and the
// authority, and the build identity of both binaries.
package contracts

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const (
	// Version of the licensecheck binaries
	Version = "1.0.0"

	// APIVersion is the path prefix of the licensing wire API
	APIVersion = "v1"
)

// Overridden with -ldflags "-X licensecheck/pkg/contracts.GitCommit=...".
var (
	GitCommit = ""
	BuildTime = ""
)

// BuildInfo identifies a running binary.
type BuildInfo struct {
	Version    string `json:"version"`
	APIVersion string `json:"api_version"`
	Commit     string `json:"commit"`
	BuildTime  string `json:"build_time,omitempty"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// CurrentBuild describes this binary. Without an ldflags commit the VCS
// revision stamped by the go tool is used.
func CurrentBuild() BuildInfo {
	commit := GitCommit
	if commit == "" {
		commit = vcsRevision()
	}
	return BuildInfo{
		Version:    Version,
		APIVersion: APIVersion,
		Commit:     commit,
		BuildTime:  BuildTime,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}

// String renders the one-line form printed by the version commands.
func (b BuildInfo) String() string {
	return fmt.Sprintf("licensecheck v%s (api %s, commit %s, %s, %s)",
		b.Version, b.APIVersion, b.Commit, b.GoVersion, b.Platform)
}
