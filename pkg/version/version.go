// Package version identifies a kagi-proxy build. Release builds stamp the
// variables below with -ldflags; other builds fall back to the VCS settings
// the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const product = "kagi-proxy"

// Stamped with -ldflags "-X github.com/lkarlslund/kagi-proxy/pkg/version.Version=vX.Y.Z",
// likewise Commit, Date (RFC 3339) and Dirty ("true").
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
	Dirty   = ""
)

// Build is the resolved identity of the running binary.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
	Dirty   bool   `json:"dirty,omitempty"`
}

func Current() Build {
	b := stamped()
	if bi, ok := debug.ReadBuildInfo(); ok {
		b = b.withVCS(bi.Settings)
	}
	return b
}

func stamped() Build {
	b := Build{
		Version: strings.TrimSpace(Version),
		Commit:  strings.TrimSpace(Commit),
		Date:    strings.TrimSpace(Date),
		Dirty:   strings.EqualFold(strings.TrimSpace(Dirty), "true"),
	}
	if b.Version == "" {
		b.Version = "dev"
	}
	return b
}

// withVCS fills fields the ldflags left empty.
func (b Build) withVCS(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		v := strings.TrimSpace(s.Value)
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = v
			}
		case "vcs.time":
			if b.Date == "" {
				b.Date = v
			}
		case "vcs.modified":
			b.Dirty = b.Dirty || strings.EqualFold(v, "true")
		}
	}
	return b
}

// String renders version[+commit12][+dirty].
func (b Build) String() string {
	out := b.Version
	if b.Commit != "" {
		c := b.Commit
		if len(c) > 12 {
			c = c[:12]
		}
		out += "+" + c
	}
	if b.Dirty {
		out += "+dirty"
	}
	return out
}

func String() string {
	return Current().String()
}

// UserAgent is sent by the chat command.
func UserAgent() string {
	return product + "/" + String()
}

// Detailed is the output of the version command.
func Detailed(component string) string {
	b := Current()
	if strings.TrimSpace(component) == "" {
		component = product
	}
	out := fmt.Sprintf("%s %s (%s %s/%s)", component, b, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	if b.Date != "" {
		out += "\nBuilt: " + b.Date
	}
	return out
}
