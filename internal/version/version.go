// Package version reports the loom build. Release builds set the variables
// with -ldflags; other builds fall back to the VCS data the Go toolchain
// embeds.
//
//	go build -ldflags "-X github.com/felixgeelhaar/loom/internal/version.Version=1.2.0"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
	Date      string `json:"date,omitempty" yaml:"date,omitempty"`
	Dirty     bool   `json:"dirty,omitempty" yaml:"dirty,omitempty"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetInfo merges the ldflags values with the embedded build info.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.fillFromBuild(bi.Settings)
	}
	return info
}

func (i *Info) fillFromBuild(settings []debug.BuildSetting) {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "" {
				i.Commit = s.Value
			}
		case "vcs.time":
			if i.Date == "" {
				i.Date = s.Value
			}
		case "vcs.modified":
			i.Dirty = s.Value == "true"
		}
	}
}

// Short is the version with the abbreviated commit, e.g. "1.2.0-3f9a2c1".
func (i Info) Short() string {
	if i.Commit == "" {
		return i.Version
	}
	s := i.Version + "-" + shortCommit(i.Commit)
	if i.Dirty {
		s += "-dirty"
	}
	return s
}

func (i Info) String() string {
	s := "loom " + i.Short()
	if i.Date != "" {
		s += " built " + i.Date
	}
	return fmt.Sprintf("%s with %s for %s", s, i.GoVersion, i.Platform)
}

func shortCommit(c string) string {
	if len(c) > 7 {
		return c[:7]
	}
	return c
}
