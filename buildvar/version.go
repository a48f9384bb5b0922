// Package buildvar provides the version of an imapsearch build.
package buildvar

import (
	"runtime/debug"
)

// Version is set at runtime based on the Go module used to build.
var Version = "(devel)"

func init() {
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		Version = version(buildInfo)
	}
}

// version returns the module version, or for development builds the vcs
// revision with a marker for local modifications.
func version(info *debug.BuildInfo) string {
	v := info.Main.Version
	if v != "(devel)" && v != "" {
		return v
	}
	var vcsRev, vcsMod string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			vcsRev = setting.Value
		case "vcs.modified":
			vcsMod = setting.Value
		}
	}
	if vcsRev == "" {
		return "(devel)"
	}
	switch vcsMod {
	case "false":
		return vcsRev
	case "true":
		return vcsRev + "+modifications"
	}
	return vcsRev + "+unknown"
}
