package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X". When Commit or BuildTime are left unset they are
// taken from the VCS stamp the go tool embeds.
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Modified  bool   `json:"modified,omitempty"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

var (
	once sync.Once
	info Info
)

// Get returns the build information. The result is computed once.
func Get() Info {
	once.Do(func() {
		info = resolve(Version, Commit, BuildTime, readVCS)
	})
	return info
}

// String formats Get() as "version (commit) built at time".
func String() string {
	i := Get()
	commit := i.Commit
	if i.Modified {
		commit += "+dirty"
	}
	return i.Version + " (" + commit + ") built at " + i.BuildTime
}

type vcsStamp struct {
	revision string
	time     string
	modified bool
}

func readVCS() (vcsStamp, bool) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return vcsStamp{}, false
	}
	var s vcsStamp
	for _, kv := range bi.Settings {
		switch kv.Key {
		case "vcs.revision":
			s.revision = kv.Value
		case "vcs.time":
			s.time = kv.Value
		case "vcs.modified":
			s.modified = kv.Value == "true"
		}
	}
	return s, s.revision != ""
}

func resolve(version, commit, buildTime string, vcs func() (vcsStamp, bool)) Info {
	i := Info{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
	if i.Commit == "" || i.BuildTime == "" {
		if s, ok := vcs(); ok {
			if i.Commit == "" {
				i.Commit = shortRev(s.revision)
				i.Modified = s.modified
			}
			if i.BuildTime == "" {
				i.BuildTime = s.time
			}
		}
	}
	if i.Commit == "" {
		i.Commit = "unknown"
	}
	if i.BuildTime == "" {
		i.BuildTime = "unknown"
	}
	return i
}

func shortRev(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
