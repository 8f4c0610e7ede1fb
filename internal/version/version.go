// Package version holds the build identification of the bridge binaries.
//
// Release builds set the variables with the linker:
//
//	go build -ldflags "-X cbmbridge/internal/version.Version=v0.2.0 -X cbmbridge/internal/version.Commit=abcd123" ./cmd/...
package version

import (
	"runtime"
	"strings"
)

var (
	Version   = "v0.1.0"
	Commit    = ""
	BuildDate = ""
)

// Info describes the running binary.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
	GoVersion string
}

func Get() Info {
	return Info{Version, Commit, BuildDate, runtime.Version()}
}

// String is the line printed by --version and logged at start.
func (i Info) String() string {
	var sb strings.Builder
	sb.WriteString("cbmbridge ")
	if i.Version == "" {
		sb.WriteString("dev")
	} else {
		sb.WriteString(i.Version)
	}
	if i.Commit != "" {
		sb.WriteString(" (" + i.Commit + ")")
	}
	if i.BuildDate != "" {
		sb.WriteString(" built " + i.BuildDate)
	}
	sb.WriteString(" " + i.GoVersion)
	return sb.String()
}

// DOS returns the text reported with status 73 after a reset.
// Retro machines print it verbatim, so it is upper case and short.
func DOS() string {
	v := strings.TrimPrefix(Version, "v")
	if v == "" {
		v = "DEV"
	}
	return "CBMBRIDGE V" + strings.ToUpper(v)
}
