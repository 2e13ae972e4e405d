package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Populated through -ldflags "-X" by release builds.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// `go install module@version` builds carry no ldflags but do embed
	// the module version and VCS revision.
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch {
		case s.Key == "vcs.revision" && GitCommit == "unknown" && len(s.Value) >= 7:
			GitCommit = s.Value[:7]
		case s.Key == "vcs.time" && BuildDate == "unknown":
			BuildDate = s.Value
		}
	}
}

// String is the one-line banner printed by `modelmux version`.
func String() string {
	return fmt.Sprintf("modelmux %s (commit %s, built %s, %s/%s)",
		Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
}
