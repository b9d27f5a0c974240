// Package buildinfo reports which build of a nodeflow binary is running.
package buildinfo

import (
	"fmt"
	"runtime/debug"

	"github.com/nodeflow/nodeflow/core/infra/logging"
)

// Overridden with -ldflags "-X github.com/nodeflow/nodeflow/core/infra/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes a build.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Dirty     bool   `json:"dirty,omitempty"`
}

func (i Info) String() string {
	s := fmt.Sprintf("version=%s commit=%s date=%s go=%s", i.Version, i.Commit, i.Date, i.GoVersion)
	if i.Dirty {
		s += " dirty"
	}
	return s
}

// Current merges the linker values with the VCS stamp embedded by the Go
// toolchain. Linker values win.
func Current() Info {
	bi, _ := debug.ReadBuildInfo()
	return merge(Version, Commit, Date, bi)
}

func merge(version, commit, date string, bi *debug.BuildInfo) Info {
	info := Info{Version: version, Commit: commit, Date: date}
	if bi != nil {
		info.GoVersion = bi.GoVersion
		if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	if len(info.Commit) > 12 {
		info.Commit = info.Commit[:12]
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}

// Log writes the build summary under the service's log component.
func Log(service string) {
	info := Current()
	logging.Info(service, "build",
		"version", info.Version, "commit", info.Commit, "date", info.Date, "go", info.GoVersion)
}
